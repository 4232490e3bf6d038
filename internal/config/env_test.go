package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnv(t *testing.T) {
	ResetEnv()

	os.Setenv("GEMINI_API_KEY", "test-key")
	os.Setenv("AEGIS_GEMINI_MODEL", "gemini-1.5-pro")
	os.Setenv("AEGIS_MAX_REPLANS", "5")
	os.Setenv("AEGIS_REPLAN_THRESHOLD", "0.8")
	defer func() {
		os.Unsetenv("GEMINI_API_KEY")
		os.Unsetenv("AEGIS_GEMINI_MODEL")
		os.Unsetenv("AEGIS_MAX_REPLANS")
		os.Unsetenv("AEGIS_REPLAN_THRESHOLD")
		ResetEnv()
	}()

	env := Env()

	assert.Equal(t, "test-key", env.GeminiKey)
	assert.Equal(t, "gemini-1.5-pro", env.GeminiModel)
	assert.Equal(t, 5, env.MaxReplanAttempts)
	assert.Equal(t, 0.8, env.ReplanThreshold)
}

func TestEnvDefaults(t *testing.T) {
	ResetEnv()

	os.Unsetenv("AEGIS_GEMINI_MODEL")
	os.Unsetenv("AEGIS_MAX_REPLANS")
	os.Unsetenv("AEGIS_REPLAN_THRESHOLD")
	os.Unsetenv("AEGIS_FAILURE_RATIO")
	os.Unsetenv("AEGIS_STEP_TIMEOUT_SECONDS")
	os.Unsetenv("AEGIS_COMPLETED_CAP")
	defer ResetEnv()

	env := Env()

	assert.Equal(t, "gemini-1.5-flash", env.GeminiModel)
	assert.Equal(t, 3, env.MaxReplanAttempts)
	assert.Equal(t, 0.7, env.ReplanThreshold)
	assert.Equal(t, 0.3, env.FailureRatio)
	assert.Equal(t, 300*time.Second, env.DefaultStepTimeout)
	assert.Equal(t, 100, env.CompletedCap)
}

func TestEnvIgnoresMalformedNumbers(t *testing.T) {
	ResetEnv()

	os.Setenv("AEGIS_MAX_REPLANS", "lots")
	os.Setenv("AEGIS_REPLAN_THRESHOLD", "high")
	defer func() {
		os.Unsetenv("AEGIS_MAX_REPLANS")
		os.Unsetenv("AEGIS_REPLAN_THRESHOLD")
		ResetEnv()
	}()

	env := Env()

	assert.Equal(t, 3, env.MaxReplanAttempts)
	assert.Equal(t, 0.7, env.ReplanThreshold)
}

func TestEnvSingleton(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	env1 := Env()
	env2 := Env()

	assert.Same(t, env1, env2)
}

func TestResetEnv(t *testing.T) {
	ResetEnv()
	os.Setenv("AEGIS_GEMINI_MODEL", "first")
	env1 := Env()
	assert.Equal(t, "first", env1.GeminiModel)

	os.Setenv("AEGIS_GEMINI_MODEL", "second")
	ResetEnv()

	env2 := Env()
	assert.Equal(t, "second", env2.GeminiModel)

	os.Unsetenv("AEGIS_GEMINI_MODEL")
	ResetEnv()
}

func TestPath(t *testing.T) {
	p := Path("aegis.db")
	assert.Equal(t, filepath.Join(Home(), "aegis.db"), p)
}
