// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"os"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const takesBucket = "takes.v0"

// Container errors.
var (
	ErrTakeNotExist  = errors.New("take does not exist")
	ErrInvalidTakeID = frame.ErrInvalidTakeID
)

// Container owns every finished take and persists them in a bolt database.
// Takes are kept in memory, ordered by take id.
type Container struct {
	dbPath string
	db     *bolt.DB

	takes []*frame.Store

	wg     *sync.WaitGroup
	logger log.ILogger
	mu     sync.Mutex
}

// NewContainer returns a container, call Init before use.
func NewContainer(dbPath string, wg *sync.WaitGroup, logger log.ILogger) *Container {
	return &Container{
		dbPath: dbPath,
		wg:     wg,
		logger: logger,
	}
}

// Init opens the database and loads all takes.
// The database is closed when the context is canceled.
func (c *Container) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(c.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("open database: %w: %v", err, c.dbPath)
	}

	var takes []*frame.Store
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(takesBucket))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return b.ForEach(func(k, v []byte) error {
			store, err := frame.UnmarshalTake(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("unmarshal take %x: %w", k, err)
			}
			takes = append(takes, store)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return err
	}

	c.mu.Lock()
	c.db = db
	c.takes = takes
	c.mu.Unlock()

	log.Info(c.logger).Src("storage").Msgf("loaded %d takes", len(takes))

	c.wg.Add(1)
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		db.Close()
		c.mu.Unlock()
		c.wg.Done()
	}()

	return nil
}

// AddTake persists a finished take, replacing any take with the same id.
func (c *Container) AddTake(store *frame.Store) error {
	if err := frame.CheckTakeID(store.TakeID()); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := frame.MarshalTake(&buf, store); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(takesBucket)).Put(encodeTakeID(store.TakeID()), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("put take: %w", err)
	}

	i := c.index(store.TakeID())
	if i < len(c.takes) && c.takes[i].TakeID() == store.TakeID() {
		c.takes[i] = store
		return nil
	}
	c.takes = append(c.takes, nil)
	copy(c.takes[i+1:], c.takes[i:])
	c.takes[i] = store
	return nil
}

// index returns the position of takeID or where it would be inserted.
func (c *Container) index(takeID int) int {
	return sort.Search(len(c.takes), func(i int) bool {
		return c.takes[i].TakeID() >= takeID
	})
}

// DefaultBuffers returns all takes ordered by take id.
func (c *Container) DefaultBuffers() []*frame.Store {
	c.mu.Lock()
	defer c.mu.Unlock()

	takes := make([]*frame.Store, len(c.takes))
	copy(takes, c.takes)
	return takes
}

// Take returns take by id.
func (c *Container) Take(takeID int) (*frame.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(takeID)
	if i == len(c.takes) || c.takes[i].TakeID() != takeID {
		return nil, fmt.Errorf("%w: %d", ErrTakeNotExist, takeID)
	}
	return c.takes[i], nil
}

// DeleteTake deletes take by id. Engines playing the take keep their reference.
func (c *Container) DeleteTake(takeID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(takeID)
	if i == len(c.takes) || c.takes[i].TakeID() != takeID {
		return fmt.Errorf("%w: %d", ErrTakeNotExist, takeID)
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(takesBucket)).Delete(encodeTakeID(takeID))
	})
	if err != nil {
		return fmt.Errorf("delete take: %w", err)
	}

	c.takes = append(c.takes[:i], c.takes[i+1:]...)
	return nil
}

// TakeInfo take summary.
type TakeInfo struct {
	ID       int          `json:"id"`
	Layout   frame.Layout `json:"layout"`
	Frames   int          `json:"frames"`
	Duration float64      `json:"duration"`
}

// Takes returns a summary of all takes.
func (c *Container) Takes() []TakeInfo {
	takes := c.DefaultBuffers()
	infos := make([]TakeInfo, len(takes))
	for i, take := range takes {
		infos[i] = TakeInfo{
			ID:       take.TakeID(),
			Layout:   take.Layout(),
			Frames:   take.FrameCount(),
			Duration: take.Duration(),
		}
	}
	return infos
}

func encodeTakeID(takeID int) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(takeID))
	return out
}

// DiskUsage in Bytes.
type DiskUsage struct {
	Used      int64  `json:"used"`
	Formatted string `json:"formatted"`
}

// DiskUsage returns the size of the take database.
func (c *Container) DiskUsage() (DiskUsage, error) {
	info, err := os.Stat(c.dbPath)
	if err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{
		Used:      info.Size(),
		Formatted: formatDiskUsage(float64(info.Size())),
	}, nil
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}
