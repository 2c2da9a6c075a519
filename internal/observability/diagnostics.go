package observability

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/yuqie6/DungeonMirror/internal/dto"
	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
)

// WriteDiagnosticsZip 导出诊断包：状态快照 + 脱敏配置 + 最近日志，不含数据库
func WriteDiagnosticsZip(w io.Writer, cfg *config.Config, cfgPath string, status *dto.StatusDTO) error {
	if cfg == nil {
		return ErrNotReady
	}
	if status == nil {
		return errors.New("status is nil")
	}

	zw := zip.NewWriter(w)
	defer zw.Close()

	_ = addZipJSON(zw, "status.json", status)
	_ = addZipText(zw, "README.txt", buildDiagReadme())

	if strings.TrimSpace(cfgPath) != "" {
		if b, err := os.ReadFile(cfgPath); err == nil {
			_ = addZipText(zw, "config/config.yaml.redacted", redactConfigYAML(string(b)))
		} else {
			_ = addZipText(zw, "config/ERROR.txt", "读取配置失败: "+err.Error())
		}
	}

	logPath := strings.TrimSpace(cfg.App.LogPath)
	if logPath != "" {
		lines, err := tailLines(logPath, 512*1024)
		if err != nil {
			_ = addZipText(zw, "logs/ERROR.txt", "读取日志失败: "+err.Error())
		} else {
			if len(lines) > 2000 {
				lines = lines[len(lines)-2000:]
			}
			_ = addZipText(zw, "logs/recent.log", strings.Join(lines, "\n"))
		}
	}

	return nil
}

func buildDiagReadme() string {
	return strings.TrimSpace(`
该诊断包不包含数据库与副本记录。

包含：
- status.json：/api/status 快照
- config/config.yaml.redacted：脱敏后的配置文件（如存在）
- logs/recent.log：最近日志（截断）

反馈问题时请附上该文件。`) + "\n"
}

func addZipText(zw *zip.Writer, name string, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(content))
	return err
}

func addZipJSON(zw *zip.Writer, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return addZipText(zw, name, string(b)+"\n")
}

var reYAMLSecret = regexp.MustCompile(`(?im)^(\s*(api_key|apikey|access_token|refresh_token|token|secret|password)\s*:\s*)(.+)$`)

func redactConfigYAML(y string) string {
	in := strings.ReplaceAll(y, "\r\n", "\n")
	return reYAMLSecret.ReplaceAllStringFunc(in, func(line string) string {
		m := reYAMLSecret.FindStringSubmatch(line)
		if len(m) != 4 {
			return line
		}
		prefix := m[1]
		val := strings.TrimSpace(m[3])
		if strings.Contains(val, "${") {
			return prefix + val
		}
		return prefix + "\"***\""
	})
}

func tailLines(path string, maxBytes int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := st.Size()
	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	s := string(b)
	if start > 0 {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n"), nil
}
