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

package web

import (
	"framereplay/pkg/log"
	"framereplay/pkg/player"
	"framereplay/pkg/storage"
	"framereplay/pkg/system"
	"framereplay/pkg/web/auth"
	"net/http"

	"github.com/gorilla/mux"
)

// Deps route dependencies.
type Deps struct {
	Auth      *auth.Authenticator
	Logger    *log.Logger
	LogDB     *log.DB
	Container *storage.Container
	Players   *player.Manager
	System    *system.System
}

// NewRouter returns the api router, every route requires authentication.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(d.Auth.Admin)
	api.MethodNotAllowedHandler = methodNotAllowed()

	api.Handle("/takes", TakeList(d.Container)).Methods(http.MethodGet)
	api.Handle("/take/{id:[0-9]+}", TakeDownload(d.Container)).Methods(http.MethodGet)
	api.Handle("/take/{id:[0-9]+}", TakeImport(d.Container)).Methods(http.MethodPut)
	api.Handle("/take/{id:[0-9]+}", TakeDelete(d.Container)).Methods(http.MethodDelete)

	api.Handle("/players", PlayerList(d.Players)).Methods(http.MethodGet)
	api.Handle("/player/{name}", PlayerStatus(d.Players)).Methods(http.MethodGet)
	api.Handle("/player/{name}/bind", PlayerBind(d.Players)).Methods(http.MethodPost)
	api.Handle("/player/{name}/start", PlayerStart(d.Players)).Methods(http.MethodPost)
	api.Handle("/player/{name}/stop", PlayerStop(d.Players)).Methods(http.MethodPost)
	api.Handle("/player/{name}/feed", PlayerFeed(d.Players, d.Logger)).Methods(http.MethodGet)

	api.Handle("/record/start", RecordStart(d.Players)).Methods(http.MethodPost)
	api.Handle("/record/frame", RecordFrame(d.Players)).Methods(http.MethodPost)
	api.Handle("/record/finish", RecordFinish(d.Players)).Methods(http.MethodPost)
	api.Handle("/record/status", RecordStatus(d.Players)).Methods(http.MethodGet)

	api.Handle("/system/status", SystemStatus(d.System)).Methods(http.MethodGet)

	api.Handle("/log/feed", LogFeed(d.Logger, d.Auth)).Methods(http.MethodGet)
	api.Handle("/log/query", LogQuery(d.LogDB)).Methods(http.MethodGet)
	api.Handle("/log/sources", LogSources(d.Logger)).Methods(http.MethodGet)

	return r
}

func methodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
}
