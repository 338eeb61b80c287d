package cachefs

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/log"
)

// DefaultScheme is the URI scheme used when none is configured.
const DefaultScheme = "cache"

// StorageFactory creates the storage for a store id that is mounted lazily.
// The returned storage must not be opened yet.
type StorageFactory func(ctx context.Context, storeID string) (backend.Storage, error)

// Observer receives a callback for every provider operation and transaction.
type Observer interface {
	ObserveOperation(storeID, operation string, elapsed time.Duration, err error)
	ObserveTransaction(storeID, kind, outcome string)
	ObserveMounts(count int)
}

type ProviderOptions struct {
	LogLevel      log.LogLevel
	LogFile       string
	NoTerminalLog bool
	Logger        *log.Logger

	Scheme          string
	CaseInsensitive bool
	StorageFactory  StorageFactory
	Observer        Observer
}

type ProviderOption func(*ProviderOptions) error

func newDefaultProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		LogLevel: log.Info,
		Scheme:   DefaultScheme,
	}
}

func WithLogLevel(logLevel log.LogLevel) ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.LogLevel = logLevel
		return nil
	}
}

func WithoutTerminalLog() ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.NoTerminalLog = true
		return nil
	}
}

func WithLogFile(logFile string) ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.LogFile = logFile

		return nil
	}
}

// WithLogger replaces the logger built from the log options.
func WithLogger(logger *log.Logger) ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.Logger = logger
		return nil
	}
}

func WithScheme(scheme string) ProviderOption {
	return func(opts *ProviderOptions) error {
		if scheme == "" {
			return fmt.Errorf("%w: empty uri scheme", ErrInvalid)
		}

		opts.Scheme = scheme
		return nil
	}
}

// WithCaseInsensitive makes lazily mounted filesystems fold the case of names.
func WithCaseInsensitive() ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.CaseInsensitive = true
		return nil
	}
}

// WithStorageFactory enables lazy mounts through GetFileSystem.
func WithStorageFactory(factory StorageFactory) ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.StorageFactory = factory
		return nil
	}
}

func WithObserver(observer Observer) ProviderOption {
	return func(opts *ProviderOptions) error {
		opts.Observer = observer
		return nil
	}
}

type FileSystemOptions struct {
	CaseInsensitive bool
}

type FileSystemOption func(*FileSystemOptions)

// CaseInsensitive overrides the case sensitivity of a single filesystem.
func CaseInsensitive(enabled bool) FileSystemOption {
	return func(opts *FileSystemOptions) {
		opts.CaseInsensitive = enabled
	}
}

// CopyOptions controls Copy and Move.
type CopyOptions struct {
	ReplaceExisting bool
}

type CopyOption func(*CopyOptions)

// ReplaceExisting allows Copy and Move to replace an existing destination.
func ReplaceExisting() CopyOption {
	return func(opts *CopyOptions) {
		opts.ReplaceExisting = true
	}
}

func newCopyOptions(opts []CopyOption) *CopyOptions {
	options := &CopyOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}
