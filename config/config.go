// Package config loads qrsheet settings from defaults, an optional config
// file and QRSHEET_* environment variables, in increasing priority.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wudi/qrsheet/batch"
	"github.com/wudi/qrsheet/grid"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/sheet"
	"github.com/wudi/qrsheet/sink"
	"github.com/wudi/qrsheet/symbol"
)

// EnvPrefix is prepended to every environment key, e.g. QRSHEET_PAGE_ROWS.
const EnvPrefix = "QRSHEET"

type Config struct {
	Log    LogConfig       `mapstructure:"log"`
	Page   grid.PageConfig `mapstructure:"page"`
	Render RenderConfig    `mapstructure:"render"`
	Style  StyleConfig     `mapstructure:"style"`
	Output OutputConfig    `mapstructure:"output"`
	Server ServerConfig    `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

type RenderConfig struct {
	symbol.Options `mapstructure:",squash"`
	MaxItems       int `mapstructure:"max_items" validate:"gte=-1"`
}

type StyleConfig struct {
	sheet.Style `mapstructure:",squash"`
	// LabelFontPath points at a TrueType file used for labels.
	LabelFontPath string `mapstructure:"label_font"`
}

type OutputConfig struct {
	Filename      string   `mapstructure:"filename" validate:"required,excludesall=/\\"`
	Dir           string   `mapstructure:"dir"`
	Compression   int      `mapstructure:"compression" validate:"gte=-1,lte=9"`
	Deterministic bool     `mapstructure:"deterministic"`
	SubsetFonts   bool     `mapstructure:"subset_fonts"`
	S3            S3Config `mapstructure:"s3"`
}

// S3Config enables upload when Bucket is set.
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region" validate:"required_with=Bucket"`
	Endpoint     string `mapstructure:"endpoint" validate:"omitempty,url"`
	Prefix       string `mapstructure:"prefix"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key" validate:"required_with=AccessKey"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	MaxLogoBytes    int64         `mapstructure:"max_logo_bytes" validate:"gt=0"`
	MaxConns        int           `mapstructure:"max_conns" validate:"gte=0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	lc := observability.DefaultLogConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.output", lc.Output)

	pc := grid.DefaultPageConfig()
	v.SetDefault("page.width", pc.Width)
	v.SetDefault("page.height", pc.Height)
	v.SetDefault("page.columns", pc.Columns)
	v.SetDefault("page.rows", pc.Rows)
	v.SetDefault("page.margin", pc.Margin)
	v.SetDefault("page.symbol_padding", pc.SymbolPadding)
	v.SetDefault("page.label_band", pc.LabelBand)

	ro := symbol.DefaultOptions()
	v.SetDefault("render.size_px", ro.SizePx)
	v.SetDefault("render.logo_ratio", ro.LogoRatio)
	v.SetDefault("render.quiet_zone", ro.QuietZone)
	v.SetDefault("render.max_items", batch.DefaultMaxItems)

	st := sheet.DefaultStyle()
	v.SetDefault("style.border_width", st.BorderWidth)
	v.SetDefault("style.label_font_size", st.LabelFontSize)
	v.SetDefault("style.label_font", "")

	so := sheet.DefaultOptions()
	v.SetDefault("output.filename", so.Filename)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.compression", so.Compression)
	v.SetDefault("output.deterministic", false)
	v.SetDefault("output.subset_fonts", so.SubsetFonts)
	for _, k := range []string{"bucket", "region", "endpoint", "prefix", "access_key", "secret_key"} {
		v.SetDefault("output.s3."+k, "")
	}
	v.SetDefault("output.s3.use_path_style", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_logo_bytes", 4<<20)
	v.SetDefault("server.max_conns", 64)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
}

// Load reads configuration. With an empty path it looks for qrsheet.{yaml,
// json,toml} in the working directory and /etc/qrsheet and carries on
// without one; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("qrsheet")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/qrsheet")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default is the configuration Load returns with no file and no environment.
func Default() *Config {
	so := sheet.DefaultOptions()
	return &Config{
		Log:    LogConfig{Level: "info", Format: "console", Output: "stderr"},
		Page:   grid.DefaultPageConfig(),
		Render: RenderConfig{Options: symbol.DefaultOptions(), MaxItems: batch.DefaultMaxItems},
		Style:  StyleConfig{Style: sheet.DefaultStyle()},
		Output: OutputConfig{Filename: so.Filename, Dir: ".", Compression: so.Compression, SubsetFonts: so.SubsetFonts},
		Server: ServerConfig{
			Addr:            ":8080",
			MaxLogoBytes:    4 << 20,
			MaxConns:        64,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

var validate = validator.New()

// Validate checks field constraints and then the derived page geometry.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Page.Validate()
}

func (c *Config) LogConfig() observability.LogConfig {
	lc := observability.DefaultLogConfig()
	lc.Level, lc.Format, lc.Output = c.Log.Level, c.Log.Format, c.Log.Output
	return lc
}

func (c *Config) PageConfig() grid.PageConfig { return c.Page }

func (c *Config) RenderOptions() symbol.Options { return c.Render.Options }

// SheetStyle returns the style with the label font file loaded.
func (c *Config) SheetStyle() (sheet.Style, error) {
	st := c.Style.Style
	if st.LabelFontSize == 0 {
		st.LabelFontSize = sheet.DefaultStyle().LabelFontSize
	}
	if c.Style.LabelFontPath != "" {
		data, err := os.ReadFile(c.Style.LabelFontPath)
		if err != nil {
			return sheet.Style{}, fmt.Errorf("label font: %w", err)
		}
		st.LabelFont = data
	}
	return st, nil
}

// Batch projects the configuration onto an orchestrator setup.
func (c *Config) Batch() (batch.Config, error) {
	st, err := c.SheetStyle()
	if err != nil {
		return batch.Config{}, err
	}
	return batch.Config{
		Page:          c.Page,
		Render:        c.Render.Options,
		Style:         st,
		Filename:      c.Output.Filename,
		Compression:   c.Output.Compression,
		Deterministic: c.Output.Deterministic,
		SubsetFonts:   c.Output.SubsetFonts,
		MaxItems:      c.Render.MaxItems,
	}, nil
}

// Sink returns the S3 sink when a bucket is configured and the output
// directory otherwise.
func (c *Config) Sink(ctx context.Context, logger observability.Logger) (sink.Sink, error) {
	s3 := c.Output.S3
	if s3.Bucket == "" {
		return sink.File{Dir: c.Output.Dir}, nil
	}
	return sink.NewS3(ctx, sink.S3Config{
		Bucket:       s3.Bucket,
		Region:       s3.Region,
		Endpoint:     s3.Endpoint,
		Prefix:       s3.Prefix,
		AccessKey:    s3.AccessKey,
		SecretKey:    s3.SecretKey,
		UsePathStyle: s3.UsePathStyle,
	}, sink.WithLogger(logger))
}
