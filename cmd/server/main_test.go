package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExperimentalEnabledRequiresDevSuffix(t *testing.T) {
	require.True(t, ServerConfig{DeploymentID: "url-caster-dev"}.ExperimentalEnabled())
	require.False(t, ServerConfig{DeploymentID: "url-caster"}.ExperimentalEnabled())
	require.False(t, ServerConfig{DeploymentID: ""}.ExperimentalEnabled())
	require.False(t, ServerConfig{DeploymentID: "dev-url-caster"}.ExperimentalEnabled())
}

func TestCommandDefaults(t *testing.T) {
	application := NewServerApplication()
	command, commandErr := application.Command()
	require.NoError(t, commandErr)

	require.Equal(t, defaultApplicationAddress, application.configurationLoader.GetString(environmentKeyApplicationAddress))
	require.Equal(t, defaultDataSourceName, application.configurationLoader.GetString(environmentKeyDatabaseDataSource))
	require.Equal(t, defaultUserAgent, application.configurationLoader.GetString(environmentKeyUserAgent))
	require.False(t, application.configurationLoader.GetBool(environmentKeySecureOnly))
	require.Equal(t, defaultRefreshWorkerCount, application.configurationLoader.GetInt(environmentKeyRefreshWorkers))

	for _, flagName := range []string{
		flagNameApplicationAddress,
		flagNameDatabaseDataSourceName,
		flagNameUserAgent,
		flagNameDeploymentID,
		flagNameConfigFile,
		flagNameSecureOnly,
		flagNameRefreshWorkers,
	} {
		require.NotNil(t, command.Flags().Lookup(flagName))
	}
}

func TestEnvironmentOverridesFlagDefaults(t *testing.T) {
	t.Setenv("APP_ADDR", ":9090")
	t.Setenv("DEPLOYMENT_ID", "url-caster-dev")

	application := NewServerApplication()
	_, commandErr := application.Command()
	require.NoError(t, commandErr)

	require.Equal(t, ":9090", application.configurationLoader.GetString(environmentKeyApplicationAddress))
	require.Equal(t, "url-caster-dev", application.configurationLoader.GetString(environmentKeyDeploymentID))
}
