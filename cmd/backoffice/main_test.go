package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockledger/backoffice/internal/app"
	_ "github.com/stockledger/backoffice/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.Equal(t, "1", os.Getenv("STOCKLEDGER_TEST_MODE"))

	require.NotPanics(t, main)
}
