// Package serverconfig reads and writes the per-server settings files: the
// supervisor-only craftd.toml and the game-visible server.properties/eula.txt.
// Both kinds of file are always fully rewritten on update.
package serverconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/spf13/viper"

	"github.com/loykin/craftd/internal/env"
	"github.com/loykin/craftd/internal/errs"
)

// FileName is the supervisor settings file inside a server directory.
const FileName = "craftd.toml"

type Java struct {
	Binary  string `toml:"binary" mapstructure:"binary" json:"binary"`
	Xmx     string `toml:"xmx" mapstructure:"xmx" json:"xmx"`
	Xms     string `toml:"xms" mapstructure:"xms" json:"xms"`
	Tweaks  string `toml:"tweaks" mapstructure:"tweaks" json:"tweaks"`
	JarFile string `toml:"jar_file" mapstructure:"jar_file" json:"jar_file"`
	JarArgs string `toml:"jar_args" mapstructure:"jar_args" json:"jar_args"`
	// Env entries are KEY=VALUE and may reference ${VAR} from the daemon environment.
	Env []string `toml:"env" mapstructure:"env" json:"env,omitempty"`
}

type Minecraft struct {
	Profile        string `toml:"profile" mapstructure:"profile" json:"profile"`
	Unconventional bool   `toml:"unconventional" mapstructure:"unconventional" json:"unconventional"`
}

type OnReboot struct {
	Start bool `toml:"start" mapstructure:"start" json:"start"`
}

// ServerConfig holds the settings the supervisor uses to launch a server.
type ServerConfig struct {
	Java      Java      `toml:"java" mapstructure:"java" json:"java"`
	Minecraft Minecraft `toml:"minecraft" mapstructure:"minecraft" json:"minecraft"`
	OnReboot  OnReboot  `toml:"on_reboot" mapstructure:"on_reboot" json:"on_reboot"`
}

// Default returns the settings written for a freshly created server.
func Default() ServerConfig {
	return ServerConfig{
		Java: Java{
			Binary:  "java",
			Xmx:     "2G",
			Xms:     "1G",
			JarFile: "server.jar",
			JarArgs: "nogui",
		},
		Minecraft: Minecraft{Profile: "vanilla"},
	}
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, FileName))
	v.SetConfigType("toml")
	d := Default()
	v.SetDefault("java.binary", d.Java.Binary)
	v.SetDefault("java.xmx", d.Java.Xmx)
	v.SetDefault("java.xms", d.Java.Xms)
	v.SetDefault("java.tweaks", d.Java.Tweaks)
	v.SetDefault("java.jar_file", d.Java.JarFile)
	v.SetDefault("java.jar_args", d.Java.JarArgs)
	v.SetDefault("minecraft.profile", d.Minecraft.Profile)
	v.SetDefault("minecraft.unconventional", d.Minecraft.Unconventional)
	v.SetDefault("on_reboot.start", d.OnReboot.Start)
	return v
}

// Load reads craftd.toml from dir. A missing file yields the defaults.
func Load(dir string) (ServerConfig, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, os.ErrNotExist) {
			return ServerConfig{}, fmt.Errorf("read %s: %w", FileName, err)
		}
	}
	var sc ServerConfig
	if err := v.Unmarshal(&sc); err != nil {
		return ServerConfig{}, fmt.Errorf("decode %s: %w", FileName, err)
	}
	if len(sc.Java.Env) == 0 {
		sc.Java.Env = nil
	}
	return sc, nil
}

// Save replaces craftd.toml in dir with sc.
func Save(dir string, sc ServerConfig) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.Set("java.binary", sc.Java.Binary)
	v.Set("java.xmx", sc.Java.Xmx)
	v.Set("java.xms", sc.Java.Xms)
	v.Set("java.tweaks", sc.Java.Tweaks)
	v.Set("java.jar_file", sc.Java.JarFile)
	v.Set("java.jar_args", sc.Java.JarArgs)
	if len(sc.Java.Env) > 0 {
		v.Set("java.env", sc.Java.Env)
	}
	v.Set("minecraft.profile", sc.Minecraft.Profile)
	v.Set("minecraft.unconventional", sc.Minecraft.Unconventional)
	v.Set("on_reboot.start", sc.OnReboot.Start)

	final := filepath.Join(dir, FileName)
	// the extension selects the encoder, so the temp name keeps .toml
	tmp := filepath.Join(dir, ".craftd.new.toml")
	if err := v.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("write %s: %w", FileName, err)
	}
	return os.Rename(tmp, final)
}

// Validate checks the fields a launch depends on.
func (sc ServerConfig) Validate() error {
	if strings.TrimSpace(sc.Java.Binary) == "" {
		return errs.Validation("java.binary is required")
	}
	if strings.TrimSpace(sc.Java.JarFile) == "" {
		return errs.Validation("java.jar_file is required")
	}
	if _, err := shlex.Split(sc.Java.Tweaks, true); err != nil {
		return errs.Validation("java.tweaks: %v", err)
	}
	if _, err := shlex.Split(sc.Java.JarArgs, true); err != nil {
		return errs.Validation("java.jar_args: %v", err)
	}
	if _, err := env.Parse(sc.Java.Env); err != nil {
		return errs.Validation("java.env: %v", err)
	}
	return nil
}

// ArgfileMode reports whether the launch uses @argfile entries instead of a jar.
func (sc ServerConfig) ArgfileMode() bool {
	return strings.HasPrefix(strings.TrimSpace(sc.Java.JarFile), "@")
}

// LaunchFiles returns the files the launch command references, relative to
// the server directory.
func (sc ServerConfig) LaunchFiles() []string {
	jar := strings.TrimSpace(sc.Java.JarFile)
	if !sc.ArgfileMode() {
		return []string{jar}
	}
	var out []string
	for _, f := range strings.Fields(jar) {
		if p := strings.TrimPrefix(f, "@"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Argv builds the launch command line. extra is inserted after the JVM flags
// and before the jar or argfile entries.
func (sc ServerConfig) Argv(extra ...string) ([]string, error) {
	tweaks, err := shlex.Split(sc.Java.Tweaks, true)
	if err != nil {
		return nil, errs.Validation("java.tweaks: %v", err)
	}
	jarArgs, err := shlex.Split(sc.Java.JarArgs, true)
	if err != nil {
		return nil, errs.Validation("java.jar_args: %v", err)
	}
	argv := []string{sc.Java.Binary}
	if sc.Java.Xmx != "" {
		argv = append(argv, "-Xmx"+sc.Java.Xmx)
	}
	if sc.Java.Xms != "" {
		argv = append(argv, "-Xms"+sc.Java.Xms)
	}
	argv = append(argv, tweaks...)
	argv = append(argv, extra...)
	if sc.ArgfileMode() {
		for _, f := range sc.LaunchFiles() {
			argv = append(argv, "@"+f)
		}
	} else {
		argv = append(argv, "-jar", strings.TrimSpace(sc.Java.JarFile))
	}
	return append(argv, jarArgs...), nil
}

// NeedsRestart reports whether moving from old to updated changes what a
// running server was launched with.
func NeedsRestart(old, updated ServerConfig) bool {
	return old.Java.JarFile != updated.Java.JarFile || old.Minecraft.Profile != updated.Minecraft.Profile
}
