package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 5,
			RetentionDays:   30,
		},
		Rules: RulesConfig{
			EscalationHours:      48,
			MaxFollowups:         3,
			AlertIntervalMinutes: 60,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	invalid := validConfig()
	invalid.Server.Port = ""
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Database.Host = ""
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Scheduler.IntervalMinutes = 0
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Rules.EscalationHours = 0
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Rules.AlertIntervalMinutes = 0
	assert.Error(t, invalid.Validate())
}

func TestEmailConfigValidation(t *testing.T) {
	config := validConfig()
	config.Email.Enabled = true
	config.Email.UseIMAP = true
	assert.Error(t, config.Validate())

	config.Email.IMAPUser = "bot@example.com"
	config.Email.IMAPPassword = "secret"
	assert.NoError(t, config.Validate())

	config.Email.UseIMAP = false
	assert.Error(t, config.Validate())

	config.Email.ClientID = "id"
	config.Email.ClientSecret = "secret"
	config.Email.RefreshToken = "token"
	assert.NoError(t, config.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := config.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=UTC"
	assert.Equal(t, expected, dsn)
}

func TestAdminIdentifiers(t *testing.T) {
	rules := RulesConfig{
		AdminEmails:  []string{" Admin@Example.com ", "", "ops@example.com"},
		AdminChatIDs: []string{"U12345", " "},
	}

	admins := rules.AdminIdentifiers()
	assert.Equal(t, []string{"admin@example.com", "ops@example.com", "U12345"}, admins)
}
