package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithOutput_JSONCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput(Config{Level: "debug", Format: "json"}, &buf)

	WithComponent("store").WithField("symbol", "AAPL").Info("opened")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "store", line["component"])
	assert.Equal(t, "AAPL", line["symbol"])
	assert.Equal(t, "opened", line["msg"])
}

func TestInitWithOutput_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := InitWithOutput(Config{Level: "chatty"}, &buf)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	WithComponent("x").Debug("hidden")
	assert.Empty(t, buf.String())
}
