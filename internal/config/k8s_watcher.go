package config

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// ConfigMap key names the watcher reads MinTimeLimitMs/MaxObserversPerUID
// from; any other key in the ConfigMap is ignored.
const (
	keyMinTimeLimitMs     = "min_time_limit_ms"
	keyMaxObserversPerUID = "max_observers_per_uid"
)

// Reloader is the subset of engine.Controller the watcher needs. Defined
// here (not imported from internal/engine) to avoid a config->engine
// build dependency; *engine.Controller satisfies it as-is.
type Reloader interface {
	UpdateConfig(cfg core.Config)
}

// K8sConfigMapWatcher watches a named ConfigMap and hot-reloads engine
// tunables into a running Controller whenever it changes. The Controller's
// config lives behind an atomic.Pointer, so a reload never blocks the
// event path spec.md describes for noteUsageStart/Stop.
type K8sConfigMapWatcher struct {
	clientset kubernetes.Interface
	namespace string
	name      string
	base      core.Config
	reloader  Reloader
	logger    *slog.Logger
}

// NewK8sConfigMapWatcher builds a watcher against the in-cluster API
// server. base supplies the EngineConfig fields a watch event doesn't
// override, so a ConfigMap missing one of the two keys doesn't reset it.
func NewK8sConfigMapWatcher(namespace, name string, base core.Config, reloader Reloader, logger *slog.Logger) (*K8sConfigMapWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create k8s clientset: %w", err)
	}
	return &K8sConfigMapWatcher{
		clientset: clientset,
		namespace: namespace,
		name:      name,
		base:      base,
		reloader:  reloader,
		logger:    logger,
	}, nil
}

// Run blocks, applying every update to the watched ConfigMap, until ctx is
// canceled or opening a watch fails. A watch channel that closes cleanly
// (routine API server-side watch expiry) is reopened each time it happens.
func (w *K8sConfigMapWatcher) Run(ctx context.Context) error {
	for {
		if err := w.watchOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (w *K8sConfigMapWatcher) watchOnce(ctx context.Context) error {
	watcher, err := w.clientset.CoreV1().ConfigMaps(w.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + w.name,
	})
	if err != nil {
		return fmt.Errorf("watch configmap %s/%s: %w", w.namespace, w.name, err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				w.logger.Warn("configmap watch channel closed, restarting", "namespace", w.namespace, "name", w.name)
				return nil
			}
			cm, ok := event.Object.(*corev1.ConfigMap)
			if !ok {
				continue
			}
			w.apply(cm)
		}
	}
}

func (w *K8sConfigMapWatcher) apply(cm *corev1.ConfigMap) {
	cfg := w.base

	if v, ok := cm.Data[keyMinTimeLimitMs]; ok {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			w.logger.Warn("configmap has invalid min_time_limit_ms, ignoring", "value", v, "error", err)
		} else {
			cfg.MinTimeLimitMs = parsed
		}
	}

	if v, ok := cm.Data[keyMaxObserversPerUID]; ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			w.logger.Warn("configmap has invalid max_observers_per_uid, ignoring", "value", v, "error", err)
		} else {
			cfg.MaxObserversPerUID = parsed
		}
	}

	w.reloader.UpdateConfig(cfg)
	w.base = cfg
	w.logger.Info("engine config reloaded from configmap",
		"min_time_limit_ms", cfg.MinTimeLimitMs,
		"max_observers_per_uid", cfg.MaxObserversPerUID,
	)
}
