package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 CDPMOCK_DEVTOOLS_URL
const EnvPrefix = "CDPMOCK"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL string `yaml:"url"`
	} `yaml:"devtools"`

	Intercept struct {
		Concurrency      int      `yaml:"concurrency"`
		ProcessTimeoutMS int      `yaml:"processTimeoutMS"`
		URLPatterns      []string `yaml:"urlPatterns"`
		RegexCacheSize   int      `yaml:"regexCacheSize"`
	} `yaml:"intercept"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"`
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"maxSizeMB"`
		MaxBackups int      `yaml:"maxBackups"`
		MaxAgeDays int      `yaml:"maxAgeDays"`
		Compress   bool     `yaml:"compress"`
	} `yaml:"log"`

	Web struct {
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"web"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.Intercept.Concurrency = 64
	c.Intercept.ProcessTimeoutMS = 3000
	c.Intercept.URLPatterns = []string{"*"}
	c.Intercept.RegexCacheSize = 256
	c.Sqlite.Dsn = "cdpmock.sqlite3"
	c.Sqlite.Prefix = "cdpmock_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/cdpmock.log"
	c.Log.MaxSizeMB = 10
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	c.Log.Compress = true
	c.Web.ListenAddr = "127.0.0.1:8787"
	return c
}

// Load 以默认配置为底，合并可选的 YAML 文件和环境变量
func Load(path string) (*Config, error) {
	base, err := yaml.Marshal(NewConfig())
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	err = v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write 将配置以 YAML 写入文件
func (c *Config) Write(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, out, 0644)
}
