package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"worker", "api", "run", "version"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}

func TestRunRequiresQuery(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "--limit", "5"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	assert.ErrorContains(t, err, `"query"`)
}

func TestRunFlagDefaults(t *testing.T) {
	assert.Equal(t, "10", runCmd.Flags().Lookup("limit").DefValue)
	assert.Equal(t, "en", runCmd.Flags().Lookup("language").DefValue)
	assert.Equal(t, "newsapi", runCmd.Flags().Lookup("source").DefValue)
}
