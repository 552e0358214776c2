// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package framereplay

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"framereplay/pkg/log"
	"framereplay/pkg/playback"
	"framereplay/pkg/player"
	"framereplay/pkg/storage"
	"framereplay/pkg/system"
	"framereplay/pkg/web"
	"framereplay/pkg/web/auth"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Run .
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	hashFlag := flag.String("hash-password", "", "print the bcrypt hash of a password and exit")
	flag.Parse()

	if *hashFlag != "" {
		hash, err := auth.HashPassword(*hashFlag)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		log.Error(app.Logger).Src("app").Msgf("fatal error: %v", err)
	case signal := <-stop:
		log.Info(app.Logger).Src("app").Msgf("received %v, stopping", signal)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	app.server.Shutdown(ctx2) //nolint:errcheck

	cancel()
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	// Environment config.
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("get environment config: %w", err)
	}

	// Logs.
	logger := log.NewLogger(wg)
	logDB := log.NewDB(env.LogDBPath(), wg)

	// Takes.
	container := storage.NewContainer(env.TakesDBPath(), wg, logger)

	// Players.
	players := player.NewManager(
		env.Players,
		container,
		playback.NewRegistry(),
		logger,
		player.Options{DefaultToFirstBuffer: *env.DefaultToFirstBuffer},
	)

	sys := system.New(container.DiskUsage, system.ReplayStatus(container, players), logger)
	a := auth.NewAuthenticator(env.AdminUser, env.AdminPasswordHash, logger)

	router := web.NewRouter(web.Deps{
		Auth:      a,
		Logger:    logger,
		LogDB:     logDB,
		Container: container,
		Players:   players,
		System:    sys,
	})

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(env.Port),
		Handler: router,
	}

	return &App{
		WG:        wg,
		Logger:    logger,
		logDB:     logDB,
		Env:       *env,
		container: container,
		players:   players,
		system:    sys,
		auth:      a,
		server:    server,
	}, nil
}

// App is the main application struct.
type App struct {
	WG        *sync.WaitGroup
	Logger    *log.Logger
	logDB     *log.DB
	Env       storage.ConfigEnv
	container *storage.Container
	players   *player.Manager
	system    *system.System
	auth      *auth.Authenticator
	server    *http.Server
}

func (app *App) run(ctx context.Context) error {
	app.Logger.Start(ctx)
	go app.Logger.LogToStdout(ctx)

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("prepare environment: %w", err)
	}

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		log.Error(app.Logger).Src("app").Msgf("initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
	}
	time.Sleep(10 * time.Millisecond)

	log.Info(app.Logger).Src("app").Msg("starting..")

	if err := app.container.Init(ctx); err != nil {
		return fmt.Errorf("initialize take database: %w", err)
	}

	if app.auth.AuthDisabled() {
		log.Warn(app.Logger).Src("app").Msg("adminPasswordHash is not set, authentication is disabled")
	}

	go app.players.Run(ctx, app.Env.TickRate)
	go app.system.StatusLoop(ctx)

	log.Info(app.Logger).Src("app").Msgf("serving app on port %v", app.Env.Port)
	return app.server.ListenAndServe()
}
