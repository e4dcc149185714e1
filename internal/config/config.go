package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Email     EmailConfig     `mapstructure:"email"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Rules     RulesConfig     `mapstructure:"rules"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Debug        bool          `mapstructure:"debug"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// EmailConfig holds email intake configuration. The listener fetches either
// over IMAP or the Gmail API, selected by use_imap.
type EmailConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	UseIMAP      bool          `mapstructure:"use_imap"`
	IMAPHost     string        `mapstructure:"imap_host"`
	IMAPPort     int           `mapstructure:"imap_port"`
	IMAPUser     string        `mapstructure:"imap_user"`
	IMAPPassword string        `mapstructure:"imap_password"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RefreshToken string        `mapstructure:"refresh_token"`
	UserEmail    string        `mapstructure:"user_email"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SlackConfig holds Slack webhook and notification configuration
type SlackConfig struct {
	BotToken       string  `mapstructure:"bot_token"`
	SigningSecret  string  `mapstructure:"signing_secret"`
	SupportChannel string  `mapstructure:"support_channel"`
	AlertChannel   string  `mapstructure:"alert_channel"`
	LogChannel     string  `mapstructure:"log_channel"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RetryBaseDelay float64 `mapstructure:"retry_base_delay"`
	RetryMaxDelay  float64 `mapstructure:"retry_max_delay"`
}

// SchedulerConfig holds escalation sweep scheduling configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	RetentionDays   int `mapstructure:"retention_days"`
}

// RulesConfig holds the business-rule knobs for escalation and closure.
// Defaults match the fixed rule set; they are configuration so tuning does
// not require a rebuild.
type RulesConfig struct {
	EscalationHours      int      `mapstructure:"escalation_hours"`
	MaxFollowups         int      `mapstructure:"max_followups"`
	AlertIntervalMinutes int      `mapstructure:"alert_interval_minutes"`
	UrgentKeywords       []string `mapstructure:"urgent_keywords"`
	ClosurePhrases       []string `mapstructure:"closure_phrases"`
	AdminEmails          []string `mapstructure:"admin_emails"`
	AdminChatIDs         []string `mapstructure:"admin_chat_ids"`
	MaxBodyLength        int      `mapstructure:"max_body_length"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.debug", false)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("email.enabled", false)
	viper.SetDefault("email.use_imap", true)
	viper.SetDefault("email.imap_host", "imap.gmail.com")
	viper.SetDefault("email.imap_port", 993)
	viper.SetDefault("email.poll_interval", "30s")

	viper.SetDefault("slack.max_retries", 3)
	viper.SetDefault("slack.retry_base_delay", 1.0)
	viper.SetDefault("slack.retry_max_delay", 60.0)

	viper.SetDefault("scheduler.interval_minutes", 5)
	viper.SetDefault("scheduler.retention_days", 30)

	viper.SetDefault("rules.escalation_hours", 48)
	viper.SetDefault("rules.max_followups", 3)
	viper.SetDefault("rules.alert_interval_minutes", 60)
	viper.SetDefault("rules.urgent_keywords", []string{"urgent", "immediately", "emergency", "critical"})
	viper.SetDefault("rules.closure_phrases", []string{
		"i'm closing this case.",
		"i am closing this case.",
		"closing this case.",
		"case closed.",
		"i'll close this case.",
	})
	viper.SetDefault("rules.max_body_length", 10000)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.debug", "DEBUG")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Email intake
	viper.BindEnv("email.enabled", "EMAIL_ENABLED")
	viper.BindEnv("email.use_imap", "EMAIL_USE_IMAP")
	viper.BindEnv("email.imap_host", "IMAP_HOST")
	viper.BindEnv("email.imap_port", "IMAP_PORT")
	viper.BindEnv("email.imap_user", "IMAP_USER")
	viper.BindEnv("email.imap_password", "IMAP_PASSWORD")
	viper.BindEnv("email.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("email.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("email.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("email.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("email.poll_interval", "EMAIL_POLL_INTERVAL")

	// Slack
	viper.BindEnv("slack.bot_token", "SLACK_BOT_TOKEN")
	viper.BindEnv("slack.signing_secret", "SLACK_SIGNING_SECRET")
	viper.BindEnv("slack.support_channel", "SUPPORT_SLACK_CHANNEL")
	viper.BindEnv("slack.alert_channel", "ALERTING_SLACK_CHANNEL")
	viper.BindEnv("slack.log_channel", "LOGGING_SLACK_CHANNEL")
	viper.BindEnv("slack.max_retries", "SLACK_MAX_RETRIES")
	viper.BindEnv("slack.retry_base_delay", "SLACK_RETRY_BASE_DELAY")
	viper.BindEnv("slack.retry_max_delay", "SLACK_RETRY_MAX_DELAY")

	// Scheduler
	viper.BindEnv("scheduler.interval_minutes", "ESCALATION_CHECK_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.retention_days", "PROCESSED_RETENTION_DAYS")

	// Rules
	viper.BindEnv("rules.escalation_hours", "ESCALATION_HOURS")
	viper.BindEnv("rules.max_followups", "MAX_FOLLOWUPS")
	viper.BindEnv("rules.alert_interval_minutes", "ALERT_INTERVAL_MINUTES")
	viper.BindEnv("rules.admin_emails", "ADMIN_EMAILS")
	viper.BindEnv("rules.admin_chat_ids", "ADMIN_CHAT_IDS")
	viper.BindEnv("rules.max_body_length", "MAX_BODY_LENGTH")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// AdminIdentifiers returns the combined admin allow-list (emails lowercased,
// chat ids verbatim).
func (c *RulesConfig) AdminIdentifiers() []string {
	admins := make([]string, 0, len(c.AdminEmails)+len(c.AdminChatIDs))
	for _, e := range c.AdminEmails {
		if e = strings.TrimSpace(e); e != "" {
			admins = append(admins, strings.ToLower(e))
		}
	}
	for _, id := range c.AdminChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins = append(admins, id)
		}
	}
	return admins
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Email.Enabled {
		if c.Email.UseIMAP {
			if c.Email.IMAPUser == "" || c.Email.IMAPPassword == "" {
				return fmt.Errorf("IMAP credentials are required when email intake uses IMAP")
			}
		} else {
			if c.Email.ClientID == "" || c.Email.ClientSecret == "" || c.Email.RefreshToken == "" {
				return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
			}
		}
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Rules.EscalationHours <= 0 || c.Rules.MaxFollowups <= 0 {
		return fmt.Errorf("escalation thresholds must be greater than 0")
	}
	if c.Rules.AlertIntervalMinutes <= 0 {
		return fmt.Errorf("alert interval must be greater than 0")
	}

	return nil
}
