package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/Dremora/endpoints/internal/config"
	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendStartsEmpty(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = saved })

	be, err := openBackend(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	defer be.close()

	_, err = be.Load(context.Background(), jsonapi.Identifier{Type: "books", ID: "1"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, be.ping)

	assert.Contains(t, buf.String(), "starts empty")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
