package logging

import (
	"regexp"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

var globalRegistry = newRegistry()

// Registry tracks named loggers so that level patterns can be applied to loggers created both
// before and after the patterns are set.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// register stores the logger under name, replacing any previous logger of that name, and applies
// matching patterns to it.
func (lr *Registry) register(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	for _, lpc := range lr.logConfig {
		if matchesPattern(lpc.Pattern, name) {
			if level, err := LevelFromString(lpc.Level); err == nil {
				logger.SetLevel(level)
			}
		}
	}
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

func (lr *Registry) loggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateConfig validates every pattern then applies them in order to the registered loggers, so
// that a later pattern overrides an earlier one. Invalid patterns are reported to errorLogger and
// skipped; the combined validation error is returned.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	var errs error
	valid := make([]LoggerPatternConfig, 0, len(logConfig))
	for _, lpc := range logConfig {
		if err := lpc.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		valid = append(valid, lpc)
	}
	if errs != nil && errorLogger != nil {
		errorLogger.Warnw("ignoring invalid log pattern configs", "error", errs)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = valid
	for name, logger := range lr.loggers {
		for _, lpc := range valid {
			if matchesPattern(lpc.Pattern, name) {
				level, _ := LevelFromString(lpc.Level)
				logger.SetLevel(level)
			}
		}
	}
	return errs
}

func matchesPattern(pattern, name string) bool {
	r, err := regexp.Compile(buildRegexFromPattern(pattern))
	if err != nil {
		return false
	}
	return r.MatchString(name)
}

// RegisterLogger adds a logger to the global registry under its name.
func RegisterLogger(logger Logger) {
	register(logger)
}

// LoggerNamed returns the globally registered logger with the given name.
func LoggerNamed(name string) (Logger, bool) {
	return globalRegistry.loggerNamed(name)
}

// RegisteredLoggerNames returns the sorted names of every globally registered logger.
func RegisteredLoggerNames() []string {
	return globalRegistry.loggerNames()
}

// UpdateLoggerLevels applies the pattern configs to all globally registered loggers.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalRegistry.UpdateConfig(logConfig, errorLogger)
}
