package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/boxvps/boxvpsd/internal/domain"
)

const (
	configName = "boxvpsd"
	configType = "toml"
	envPrefix  = "BOXVPSD"
)

// Config is the full runtime configuration. Every field has a default so a
// bare install works with an empty file.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Tracker TrackerConfig `mapstructure:"tracker"`
	API     APIConfig     `mapstructure:"api"`
	Bot     BotConfig     `mapstructure:"bot"`
	SSH     SSHConfig     `mapstructure:"ssh"`
	Xray    XrayConfig    `mapstructure:"xray"`
	OpenVPN OpenVPNConfig `mapstructure:"openvpn"`
	L2TP    L2TPConfig    `mapstructure:"l2tp"`

	// Daemons maps a display name to the systemd unit health checks probe.
	Daemons map[string]string `mapstructure:"daemons"`

	Servers []ServerConfig `mapstructure:"servers"`
}

type TrackerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// DisconnectOnBreach decides whether locking a breached account also
	// terminates its live sessions, or only blocks new logins.
	DisconnectOnBreach bool          `mapstructure:"disconnect_on_breach"`
	AdapterTimeout     time.Duration `mapstructure:"adapter_timeout"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
	Token  string `mapstructure:"token"`
}

type BotConfig struct {
	Token    string  `mapstructure:"token"`
	AdminIDs []int64 `mapstructure:"admin_ids"`
}

type SSHConfig struct {
	// AccountingChain is the iptables chain holding per-account byte
	// counters.
	AccountingChain string `mapstructure:"accounting_chain"`
	Shell           string `mapstructure:"shell"`
}

type XrayConfig struct {
	ConfDir        string        `mapstructure:"conf_dir"`
	StatsURL       string        `mapstructure:"stats_url"`
	ReloadCommand  []string      `mapstructure:"reload_command"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
	VMessPath      string        `mapstructure:"vmess_path"`
	VLESSPath      string        `mapstructure:"vless_path"`
	TrojanPath     string        `mapstructure:"trojan_path"`
}

type OpenVPNConfig struct {
	CCDDir         string `mapstructure:"ccd_dir"`
	AuthFile       string `mapstructure:"auth_file"`
	StatusLog      string `mapstructure:"status_log"`
	ManagementAddr string `mapstructure:"management_addr"`
}

type L2TPConfig struct {
	SecretsFile string `mapstructure:"secrets_file"`
}

type ServerConfig struct {
	ID          string `mapstructure:"id"`
	APIEndpoint string `mapstructure:"api_endpoint"`
	AuthToken   string `mapstructure:"auth_token"`
}

// Load reads boxvpsd.toml from the given directory (or /etc/boxvpsd when
// empty), applies BOXVPSD_* environment overrides, and fills defaults.
// A missing file is not an error.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath("/etc/boxvpsd")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "/etc/boxvpsd/data")

	v.SetDefault("tracker.interval", "60s")
	v.SetDefault("tracker.disconnect_on_breach", false)
	v.SetDefault("tracker.adapter_timeout", "5s")

	v.SetDefault("api.listen", ":8080")

	v.SetDefault("ssh.accounting_chain", "BOXVPSD_ACCT")
	v.SetDefault("ssh.shell", "/bin/false")

	v.SetDefault("xray.conf_dir", "/usr/local/etc/xray/confdir")
	v.SetDefault("xray.stats_url", "http://127.0.0.1:10085")
	v.SetDefault("xray.reload_command", []string{"systemctl", "try-reload-or-restart", "xray"})
	v.SetDefault("xray.reload_debounce", "1500ms")
	v.SetDefault("xray.vmess_path", "/vmess")
	v.SetDefault("xray.vless_path", "/vless")
	v.SetDefault("xray.trojan_path", "/trojan")

	v.SetDefault("openvpn.ccd_dir", "/etc/openvpn/ccd")
	v.SetDefault("openvpn.auth_file", "/etc/openvpn/auth/users")
	v.SetDefault("openvpn.status_log", "/etc/openvpn/openvpn-status.log")
	v.SetDefault("openvpn.management_addr", "127.0.0.1:7505")

	v.SetDefault("l2tp.secrets_file", "/etc/ppp/chap-secrets")

	v.SetDefault("daemons", map[string]string{
		"ssh":     "sshd",
		"xray":    "xray",
		"openvpn": "openvpn@server",
		"l2tp":    "xl2tpd",
	})
}

// AccountsPath is where the store keeps its table.
func (c Config) AccountsPath() string {
	return filepath.Join(c.DataDir, "accounts.toml")
}

// FleetServers converts configured servers into domain records.
func (c Config) FleetServers() []domain.Server {
	servers := make([]domain.Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, domain.Server{
			ID:          s.ID,
			APIEndpoint: s.APIEndpoint,
			AuthToken:   s.AuthToken,
		})
	}
	return servers
}

// Server looks a fleet member up by id.
func (c Config) Server(id string) (domain.Server, error) {
	for _, s := range c.FleetServers() {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Server{}, fmt.Errorf("%w: %q", domain.ErrServerNotFound, id)
}
