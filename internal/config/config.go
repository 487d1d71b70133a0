package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Experiment ExperimentConfig `mapstructure:"experiment"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	SessionSecret  string `mapstructure:"session_secret"`
	SealSecret     string `mapstructure:"seal_secret"`
	AudioDirectory string `mapstructure:"audio_directory"`
	ExperimentFile string `mapstructure:"experiment_file"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AdminConfig protects the read-only reporting endpoints. The password is
// stored as a bcrypt hash, never in the clear.
type AdminConfig struct {
	User         string `mapstructure:"user"`
	PasswordHash string `mapstructure:"password_hash"`
}

// ExperimentConfig is the experiment-facing configuration surface. It is
// snapshotted once at startup and passed by value into the workflow
// controller and handlers; a config-file change during a run never alters
// the semantics of an experiment in flight.
type ExperimentConfig struct {
	AnonymousEnabled   bool     `mapstructure:"anonymous_enabled"`
	BeginButtonEnabled bool     `mapstructure:"begin_button_enabled"`
	AcceptableBrowsers []string `mapstructure:"acceptable_browsers"`
	PreviewHTML        string   `mapstructure:"preview_html"`
	PopupWidth         int      `mapstructure:"popup_width"`
	PopupHeight        int      `mapstructure:"popup_height"`

	ObtainConsent bool `mapstructure:"obtain_consent"`

	HearingScreening HearingScreeningConfig `mapstructure:"hearing_screening"`
	HearingResponse  HearingResponseConfig  `mapstructure:"hearing_response_estimation"`

	PreTestSurveyEnabled  bool `mapstructure:"pre_test_survey_enabled"`
	PostTestSurveyEnabled bool `mapstructure:"post_test_survey_enabled"`

	ConditionsPerVisit int `mapstructure:"conditions_per_visit"`
	TrialsPerCondition int `mapstructure:"trials_per_condition"`
}

// HearingScreeningConfig controls the bounded-attempt hearing test.
type HearingScreeningConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxAttempts       int  `mapstructure:"max_attempts"`
	RejectionEnabled  bool `mapstructure:"rejection_enabled"`
	PassExpiryHours   int  `mapstructure:"pass_expiry_hours"`
	MinAudioIndex     int  `mapstructure:"min_audio_index"`
	MaxAudioIndex     int  `mapstructure:"max_audio_index"`
	FilesPerToneCount int  `mapstructure:"files_per_tone_count"`
}

// PassExpiry returns the window during which a recorded hearing-test pass
// is still considered current.
func (h HearingScreeningConfig) PassExpiry() time.Duration {
	return time.Duration(h.PassExpiryHours) * time.Hour
}

// HearingResponseConfig controls in-situ hearing response estimation.
type HearingResponseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	FrequencyCount int  `mapstructure:"frequency_count"`
	VariantCount   int  `mapstructure:"variant_count"`
	OptionCount    int  `mapstructure:"option_count"`
}

// Manager owns the viper instance and the current configuration value.
// Operational settings (admin credentials and the like) are re-read
// through Current() after a hot reload; the experiment snapshot taken at
// startup stays fixed.
type Manager struct {
	viper      *viper.Viper
	current    atomic.Pointer[Config]
	experiment ExperimentConfig
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5050")
	v.SetDefault("server.audio_directory", "audio")
	v.SetDefault("server.experiment_file", "config/experiment.yaml")

	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "user")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "earshot-db")

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true) // Compress old logs

	v.SetDefault("admin.user", "admin")

	v.SetDefault("experiment.anonymous_enabled", true)
	v.SetDefault("experiment.begin_button_enabled", true)
	v.SetDefault("experiment.popup_width", 1280)
	v.SetDefault("experiment.popup_height", 1024)
	v.SetDefault("experiment.obtain_consent", true)
	v.SetDefault("experiment.pre_test_survey_enabled", true)
	v.SetDefault("experiment.post_test_survey_enabled", true)
	v.SetDefault("experiment.conditions_per_visit", 1)
	v.SetDefault("experiment.trials_per_condition", 20)

	v.SetDefault("experiment.hearing_screening.enabled", true)
	v.SetDefault("experiment.hearing_screening.max_attempts", 2)
	v.SetDefault("experiment.hearing_screening.rejection_enabled", true)
	v.SetDefault("experiment.hearing_screening.pass_expiry_hours", 24)
	v.SetDefault("experiment.hearing_screening.min_audio_index", 0)
	v.SetDefault("experiment.hearing_screening.max_audio_index", 23)
	v.SetDefault("experiment.hearing_screening.files_per_tone_count", 4)

	v.SetDefault("experiment.hearing_response_estimation.enabled", false)
	v.SetDefault("experiment.hearing_response_estimation.frequency_count", 8)
	v.SetDefault("experiment.hearing_response_estimation.variant_count", 2)
	v.SetDefault("experiment.hearing_response_estimation.option_count", 10)
}

// Load initializes the configuration with Viper and returns a Manager.
func Load(projectRoot string, log *zap.Logger) (*Manager, error) {
	v := viper.New()

	setDefaults(v)

	// --- File Configuration ---
	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("EARSHOT") // e.g., EARSHOT_SERVER_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// It's okay if the file doesn't exist; defaults and env vars will be used.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	m := &Manager{viper: v, experiment: conf.Experiment}
	m.current.Store(&conf)

	// Hot-reload operational settings on file change. The experiment
	// snapshot is deliberately left alone; changing experiment semantics
	// requires a restart.
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		var reloaded Config
		if err := v.Unmarshal(&reloaded); err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		m.current.Store(&reloaded)
	})

	log.Info("Configuration loaded successfully")
	return m, nil
}

// Current returns the most recently loaded configuration.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Experiment returns the immutable experiment snapshot taken at startup.
func (m *Manager) Experiment() ExperimentConfig {
	return m.experiment
}
