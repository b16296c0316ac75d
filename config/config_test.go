package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supportrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const kbBackend = `
vectorstore:
  primary: kb
  backends:
    - name: kb
      provider: memory
      collections: [faq]
`

func TestLoad_ZeroIsAnExplicitSetting(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		wantTemperature float64
		wantBonus       float64
	}{
		{
			name:            "keys absent keep defaults",
			body:            kbBackend,
			wantTemperature: 0.3,
			wantBonus:       0.1,
		},
		{
			name:            "explicit zero is kept",
			body:            kbBackend + "orchestrator:\n  answer_temperature: 0\nweighting:\n  language_bonus: 0\n",
			wantTemperature: 0,
			wantBonus:       0,
		},
		{
			name:            "explicit values",
			body:            kbBackend + "orchestrator:\n  answer_temperature: 0.7\nweighting:\n  language_bonus: 0.25\n",
			wantTemperature: 0.7,
			wantBonus:       0.25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantTemperature, cfg.Orchestrator.AnswerTemperature)
			assert.Equal(t, tt.wantBonus, cfg.Weighting.LanguageBonus)
		})
	}
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	_, err := Load(writeConfig(t, kbBackend+"orchestrator:\n  answer_temperature: 3\nweighting:\n  language_bonus: -0.1\n"))
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"orchestrator.answer_temperature", "weighting.language_bonus"}, fields)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.3, cfg.Orchestrator.AnswerTemperature)
	assert.Equal(t, 0.1, cfg.Weighting.LanguageBonus)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 30000, cfg.Orchestrator.StageTimeoutMs)
	assert.NoError(t, cfg.Validate())
}
