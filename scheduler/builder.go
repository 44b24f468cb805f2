package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/executor"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
	"github.com/devkral/asyncz/store/memory"
	"github.com/devkral/asyncz/store/redis"
	"github.com/devkral/asyncz/store/sqlite"
)

// StoreFactory constructs a store from configuration arguments.
type StoreFactory func(args map[string]any) (store.Store, error)

// ExecutorFactory constructs an executor from configuration arguments.
type ExecutorFactory func(registry *job.Registry, logger *slog.Logger, args map[string]any) (executor.Executor, error)

// Built-in component type names recognized by Build.
var (
	storeFactories = map[string]StoreFactory{
		"memory": buildMemoryStore,
		"redis":  buildRedisStore,
		"sqlite": buildSQLiteStore,
	}
	executorFactories = map[string]ExecutorFactory{
		"pool":    buildPoolExecutor,
		"process": buildProcessExecutor,
		"loop":    buildLoopExecutor,
		"sync":    buildSyncExecutor,
	}
)

// RegisterStoreFactory makes a store type available to Build. Intended
// for init-time registration of external backends; not safe to call
// concurrently with Build.
func RegisterStoreFactory(name string, f StoreFactory) {
	storeFactories[name] = f
}

// RegisterExecutorFactory makes an executor type available to Build.
func RegisterExecutorFactory(name string, f ExecutorFactory) {
	executorFactories[name] = f
}

// Build constructs a scheduler from declarative settings: timezone, job
// defaults, and one store and executor per configured alias, resolved
// through the factory registries. Explicit options are applied after
// the settings-derived ones and win on conflict.
func Build(settings asyncz.Settings, opts ...Option) (*Scheduler, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}

	merged := append([]Option{
		WithTimezone(loc),
		WithJobDefaults(settings.JobDefaults),
	}, opts...)
	s := New(merged...)

	for alias, cc := range settings.Stores {
		factory, ok := storeFactories[cc.Type]
		if !ok {
			return nil, fmt.Errorf("%w: unknown store type %q", asyncz.ErrBadSettings, cc.Type)
		}
		st, err := factory(cc.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: stores[%q]: %v", asyncz.ErrBadSettings, alias, err)
		}
		if err := s.AddStore(context.Background(), alias, st); err != nil {
			return nil, err
		}
	}

	for alias, cc := range settings.Executors {
		factory, ok := executorFactories[cc.Type]
		if !ok {
			return nil, fmt.Errorf("%w: unknown executor type %q", asyncz.ErrBadSettings, cc.Type)
		}
		ex, err := factory(s.registry, s.logger, cc.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: executors[%q]: %v", asyncz.ErrBadSettings, alias, err)
		}
		if err := s.AddExecutor(alias, ex); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func buildMemoryStore(_ map[string]any) (store.Store, error) {
	return memory.New(), nil
}

func buildRedisStore(args map[string]any) (store.Store, error) {
	url, err := stringArg(args, "url", "")
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("redis store needs a url")
	}

	var opts []redis.Option
	prefix, err := stringArg(args, "prefix", "")
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		opts = append(opts, redis.WithPrefix(prefix))
	}
	if codec, err := codecArg(args); err != nil {
		return nil, err
	} else if codec != nil {
		opts = append(opts, redis.WithCodec(codec))
	}
	return redis.NewFromURL(url, opts...)
}

func buildSQLiteStore(args map[string]any) (store.Store, error) {
	path, err := stringArg(args, "path", ":memory:")
	if err != nil {
		return nil, err
	}

	var opts []sqlite.Option
	if codec, err := codecArg(args); err != nil {
		return nil, err
	} else if codec != nil {
		opts = append(opts, sqlite.WithCodec(codec))
	}
	return sqlite.Open(path, opts...)
}

func buildPoolExecutor(registry *job.Registry, logger *slog.Logger, args map[string]any) (executor.Executor, error) {
	opts, err := workerOptions(args)
	if err != nil {
		return nil, err
	}
	return executor.NewPool(registry, logger, opts...), nil
}

func buildProcessExecutor(registry *job.Registry, logger *slog.Logger, args map[string]any) (executor.Executor, error) {
	opts, err := workerOptions(args)
	if err != nil {
		return nil, err
	}
	if raw, ok := args["command"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("command must be a list of strings, got %T", raw)
		}
		argv := make([]string, len(items))
		for i, item := range items {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command[%d] must be a string, got %T", i, item)
			}
			argv[i] = str
		}
		opts = append(opts, executor.WithWorkerCommand(argv))
	}
	return executor.NewProcessPool(registry, logger, opts...), nil
}

func buildLoopExecutor(registry *job.Registry, logger *slog.Logger, args map[string]any) (executor.Executor, error) {
	var opts []executor.Option
	if raw, ok := args["queue_size"]; ok {
		n, err := intArg(raw)
		if err != nil {
			return nil, fmt.Errorf("queue_size: %v", err)
		}
		opts = append(opts, executor.WithQueueSize(n))
	}
	return executor.NewLoop(registry, logger, opts...), nil
}

func buildSyncExecutor(registry *job.Registry, logger *slog.Logger, _ map[string]any) (executor.Executor, error) {
	return executor.NewSync(registry, logger), nil
}

func workerOptions(args map[string]any) ([]executor.Option, error) {
	var opts []executor.Option
	if raw, ok := args["max_workers"]; ok {
		n, err := intArg(raw)
		if err != nil {
			return nil, fmt.Errorf("max_workers: %v", err)
		}
		opts = append(opts, executor.WithMaxWorkers(n))
	}
	return opts, nil
}

func codecArg(args map[string]any) (store.Codec, error) {
	name, err := stringArg(args, "codec", "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}
	return store.ForName(name)
}

func stringArg(args map[string]any, key, fallback string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return fallback, nil
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	return str, nil
}

func intArg(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("cannot read %T as int", raw)
	}
}
