package services

import (
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// TrustStore is the image trust surface the factory needs.
type TrustStore interface {
	executor.TrustVerifier
	Len() int
}

// ExecutionSettings holds the shared execution tunables.
type ExecutionSettings struct {
	OutputLimit    int
	DefaultTimeout time.Duration
}

// NewStrategyFactory returns an ExecutorFactory that builds one
// executor.Strategy per run. api may be nil when no daemon client exists.
func NewStrategyFactory(logger *slog.Logger, api executor.ContainerAPI, trust TrustStore, settings ExecutionSettings) ExecutorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(mode models.ExecutionMode, removeImages bool) (Executor, error) {
		trusted := trust != nil && trust.Len() > 0
		if mode == models.ModeContainer && !trusted {
			return nil, utils.NewAppError("execute", "container mode requires trusted images", utils.ErrEmptyTrustStore)
		}
		if mode == models.ModeHybrid && !trusted {
			logger.Warn("image trust store is empty, running natively only")
		}

		var container executor.ContainerBackend
		if api != nil && trusted && mode != models.ModeNative {
			container = executor.NewContainerRuntime(logger, api, trust, executor.ContainerOptions{
				OutputLimit:    settings.OutputLimit,
				DefaultTimeout: settings.DefaultTimeout,
			})
		}
		native := executor.NewNativeRunner(logger, executor.NativeOptions{
			OutputLimit:    settings.OutputLimit,
			DefaultTimeout: settings.DefaultTimeout,
		})
		return executor.NewStrategy(logger, mode, container, native).WithEphemeralImages(removeImages), nil
	}
}
