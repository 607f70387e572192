package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockledger/backoffice/internal/app"
	_ "github.com/stockledger/backoffice/internal/testing/guard"
)

func TestWorkerSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
