package acquire

import (
	"os"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/breakdown-cli/internal/fetcher"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// Generic downloader kinds a platform can fall back to.
const (
	GenericYtDlp   = "ytdlp"
	GenericArticle = "article"
)

// RegistryConfig is the adapter registry file format.
//
//	adapters:
//	  douyin:
//	    generic: ytdlp
//	    tools:
//	      - name: douyin-downloader
//	        command: douyin-downloader --url {url} --output {output}
type RegistryConfig struct {
	Adapters map[model.Platform]PlatformAdapters `yaml:"adapters"`
}

// PlatformAdapters lists the specialised tools tried before the generic
// downloader for one platform.
type PlatformAdapters struct {
	Generic string       `yaml:"generic"`
	Tools   []ToolConfig `yaml:"tools"`
}

// ToolConfig is a specialised tool and its shell-style command template.
type ToolConfig struct {
	Name        string `yaml:"name"`
	Command     string `yaml:"command"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// DefaultRegistryConfig returns the built-in adapter order.
func DefaultRegistryConfig() RegistryConfig {
	tool := func(bin string) ToolConfig {
		return ToolConfig{Name: bin, Command: bin + " --url {url} --output {output}"}
	}
	return RegistryConfig{Adapters: map[model.Platform]PlatformAdapters{
		model.PlatformDouyin: {
			Generic: GenericYtDlp,
			Tools:   []ToolConfig{tool("douyin-downloader"), tool("res-downloader")},
		},
		model.PlatformXiaohongshu: {
			Generic: GenericYtDlp,
			Tools: []ToolConfig{
				tool("xhs-downloader"),
				tool("rednote-video-assist"),
				tool("rednotevideoassist"),
				{Name: "xhsdl", Command: "xhsdl {url} --output {output}"},
				tool("res-downloader"),
			},
		},
		model.PlatformWechatMP: {
			Generic: GenericArticle,
			Tools:   []ToolConfig{tool("wechat-article-exporter"), tool("res-downloader")},
		},
	}}
}

// LoadRegistryConfig reads the registry file at path. Platforms the file
// names replace the built-in entry; the others keep their defaults. An
// empty path returns the defaults.
func LoadRegistryConfig(path string) (RegistryConfig, error) {
	cfg := DefaultRegistryConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "acquire: read registry %s", path)
	}
	var file RegistryConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, eris.Wrapf(err, "acquire: parse registry %s", path)
	}
	for p, entry := range file.Adapters {
		if entry.Generic == "" {
			entry.Generic = cfg.Adapters[p].Generic
		}
		if entry.Generic != GenericYtDlp && entry.Generic != GenericArticle {
			return cfg, eris.Errorf("acquire: platform %s: unknown generic downloader %q", p, entry.Generic)
		}
		for _, t := range entry.Tools {
			if _, err := shellquote.Split(t.Command); err != nil {
				return cfg, eris.Wrapf(err, "acquire: platform %s: tool %s", p, t.Name)
			}
		}
		cfg.Adapters[p] = entry
	}
	return cfg, nil
}

// RegistryDeps are the shared collaborators downloaders are built with.
type RegistryDeps struct {
	Exec      runner.Executor
	Fetcher   fetcher.Fetcher
	YtDlpPath string
	Browsers  []string
	Timeout   time.Duration
	TailChars int
}

// Plan is the ordered strategy list for one platform.
type Plan struct {
	Specialized []Downloader
	Generic     Downloader
}

// Registry builds per-platform plans from configuration.
type Registry struct {
	cfg  RegistryConfig
	deps RegistryDeps
}

// NewRegistry creates a registry.
func NewRegistry(cfg RegistryConfig, deps RegistryDeps) *Registry {
	if deps.TailChars <= 0 {
		deps.TailChars = runner.DefaultTailChars
	}
	return &Registry{cfg: cfg, deps: deps}
}

// Plan returns the downloaders for p. Specialised tools whose template does
// not parse are skipped.
func (r *Registry) Plan(p model.Platform) Plan {
	entry, ok := r.cfg.Adapters[p]
	if !ok {
		return Plan{}
	}

	var plan Plan
	for _, t := range entry.Tools {
		argv, err := shellquote.Split(t.Command)
		if err != nil || len(argv) == 0 {
			continue
		}
		timeout := r.deps.Timeout
		if t.TimeoutSecs > 0 {
			timeout = time.Duration(t.TimeoutSecs) * time.Second
		}
		plan.Specialized = append(plan.Specialized, NewCommandDownloader(t.Name, argv, r.deps.Exec, timeout, r.deps.TailChars))
	}

	switch entry.Generic {
	case GenericArticle:
		plan.Generic = NewArticleDownloader(r.deps.Fetcher)
	default:
		plan.Generic = NewYtDlp(r.deps.YtDlpPath, r.deps.Browsers, r.deps.Exec, r.deps.Timeout, r.deps.TailChars)
	}
	return plan
}
