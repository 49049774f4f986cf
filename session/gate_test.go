package session

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestGateStartsOpen(t *testing.T) {
	g := newGate(testLogger())
	assert.True(t, g.tryAcquire())
	assert.Equal(t, 0, g.currentDepth())
}

func TestGateRestrictBlocksAcquire(t *testing.T) {
	g := newGate(testLogger())
	g.restrict()
	assert.Equal(t, 1, g.currentDepth())
	assert.False(t, g.tryAcquire())
}

func TestGateUnrestrictReopens(t *testing.T) {
	g := newGate(testLogger())
	g.restrict()
	g.unrestrict(false)
	assert.Equal(t, 0, g.currentDepth())
	assert.True(t, g.tryAcquire())
}

func TestGateOverlappingRestrictsAccumulate(t *testing.T) {
	g := newGate(testLogger())
	g.restrict()
	g.restrict()
	assert.Equal(t, 2, g.currentDepth())
	assert.False(t, g.tryAcquire())

	g.unrestrict(false)
	assert.Equal(t, 1, g.currentDepth())
	assert.False(t, g.tryAcquire())

	g.unrestrict(false)
	assert.Equal(t, 0, g.currentDepth())
	assert.True(t, g.tryAcquire())
}

func TestGateUnrestrictNeverGoesNegative(t *testing.T) {
	g := newGate(testLogger())
	g.unrestrict(false)
	assert.Equal(t, 0, g.currentDepth())
	assert.True(t, g.tryAcquire())
}

func TestGateForceUnrestrictFromDepthTwo(t *testing.T) {
	g := newGate(testLogger())
	g.restrict()
	g.restrict()
	g.unrestrict(true)
	assert.Equal(t, 0, g.currentDepth())
	assert.True(t, g.tryAcquire())
}

func TestGateForceUnrestrictIsIdempotent(t *testing.T) {
	g := newGate(testLogger())
	g.unrestrict(true)
	g.unrestrict(true)
	assert.Equal(t, 0, g.currentDepth())
	assert.True(t, g.tryAcquire())
}
