package snapshot

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors a snapshot file on disk and reports when it has been
// rewritten, collapsing bursts of writes into one notification.
type Watcher interface {
	// Start begins watching. The callback fires from the watch goroutine
	// after the file has been quiet for the debounce period.
	Start(ctx context.Context, callback func()) error

	// Stop ends watching and waits for the watch goroutine to exit. It
	// is safe to call more than once.
	Stop() error
}

// fileWatcher implements Watcher over fsnotify. It watches the
// containing directory rather than the file itself, since editors and
// exporters typically replace snapshot files via rename.
type fileWatcher struct {
	watcher      *fsnotify.Watcher
	path         string
	debounceTime time.Duration
	log          zerolog.Logger

	callback func()
	cancel   context.CancelFunc

	debounceTimer *time.Timer
	timerMu       sync.Mutex

	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewWatcher creates a watcher for the snapshot file at path.
func NewWatcher(path string, debounce time.Duration, log zerolog.Logger) (Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(absolute)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &fileWatcher{
		watcher:      watcher,
		path:         absolute,
		debounceTime: debounce,
		log:          log,
		doneCh:       make(chan struct{}),
	}, nil
}

func (fw *fileWatcher) Start(ctx context.Context, callback func()) error {
	if callback == nil {
		return nil
	}

	fw.callback = callback
	ctx, fw.cancel = context.WithCancel(ctx)

	go fw.watch(ctx)
	return nil
}

func (fw *fileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		if fw.cancel != nil {
			fw.cancel()
			<-fw.doneCh
		} else {
			close(fw.doneCh)
		}
		err = fw.watcher.Close()
	})
	return err
}

func (fw *fileWatcher) watch(ctx context.Context) {
	defer close(fw.doneCh)

	changedCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			fw.stopDebounceTimer()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.shouldProcessEvent(event) {
				continue
			}
			fw.log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("snapshot changed on disk")
			fw.resetDebounceTimer(changedCh)

		case <-changedCh:
			fw.callback()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warn().Err(err).Msg("snapshot watcher error")
		}
	}
}

// shouldProcessEvent reports whether an event concerns the watched
// snapshot file. Write covers in-place rewrites; Create and Rename
// cover atomic replacement.
func (fw *fileWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == fw.path
}

// resetDebounceTimer restarts the quiet-period timer, draining a timer
// that already fired.
func (fw *fileWatcher) resetDebounceTimer(changedCh chan struct{}) {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	if fw.debounceTimer != nil {
		if !fw.debounceTimer.Stop() {
			select {
			case <-fw.debounceTimer.C:
			default:
			}
		}
	}

	fw.debounceTimer = time.AfterFunc(fw.debounceTime, func() {
		select {
		case changedCh <- struct{}{}:
		default:
		}
	})
}

func (fw *fileWatcher) stopDebounceTimer() {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
		fw.debounceTimer = nil
	}
}
