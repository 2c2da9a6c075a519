package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听配置文件变更，变更后重新加载并回调。
// 监听的是所在目录：编辑器保存时常以 rename 替换文件，直接监听文件会丢失后续事件。
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("path 不能为空")
	}
	if onChange == nil {
		return fmt.Errorf("onChange 不能为空")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建配置监控器失败: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("获取绝对路径失败: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("监控配置目录失败: %w", err)
	}

	go watchLoop(ctx, watcher, absPath, onChange)
	slog.Info("配置热加载已启用", "path", absPath)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, onChange func(*Config)) {
	defer watcher.Close()

	// 防抖：一次保存可能触发多次 write
	const debounce = 300 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("重新加载配置失败，保留旧配置", "path", path, "error", err)
				continue
			}
			slog.Info("配置已重新加载", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("配置监控错误", "error", err)
		}
	}
}
