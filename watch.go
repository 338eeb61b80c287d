package cachefs

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/log"
)

// WatchKey is returned by a WatchService once registration is supported.
type WatchKey struct {
	Path Path
}

// WatchService listens for storage events of one filesystem. Registering
// paths and retrieving events are not supported yet; received events are only
// logged.
type WatchService struct {
	mu      sync.Mutex
	storage backend.Storage
	log     *log.Logger
	closed  bool
}

// NewWatchService attaches a watch service to the storage of fs.
func (fs *FileSystem) NewWatchService() (*WatchService, error) {
	storage, err := fs.store()
	if err != nil {
		return nil, err
	}

	ws := &WatchService{
		storage: storage,
		log:     fs.log.Named("watch"),
	}
	storage.AddListener(ws)

	return ws, nil
}

func (ws *WatchService) HandleEvent(event backend.Event) {
	ws.log.Debug("HandleEvent: %s %s", event.Kind, event.Key)
}

// Register is not supported.
func (ws *WatchService) Register(path Path, kinds ...backend.EventKind) (*WatchKey, error) {
	return nil, fmt.Errorf("%w: watch registration", ErrUnsupported)
}

// Poll is not supported.
func (ws *WatchService) Poll() (*WatchKey, error) {
	return nil, fmt.Errorf("%w: watch polling", ErrUnsupported)
}

// Take is not supported.
func (ws *WatchService) Take(ctx context.Context) (*WatchKey, error) {
	return nil, fmt.Errorf("%w: watch take", ErrUnsupported)
}

// Close detaches the service from the storage.
func (ws *WatchService) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return nil
	}
	ws.closed = true
	ws.storage.RemoveListener(ws)

	return nil
}
