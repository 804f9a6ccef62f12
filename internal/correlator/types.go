// Package correlator implements the correspondence driver: it
// orchestrates the blobwatch collaborators (detector, scoring, PnP,
// search) against one sensor's devices and current frame, accepts a
// candidate pose, and either feeds it into a device's filter or seeds the
// sensor's camera-pose bootstrap.
package correlator

import (
	"sync"

	"github.com/hmdtrack/riftpose/internal/geom"
)

// CameraPoseState holds a sensor's bootstrap state: whether a camera pose
// has been established yet, and what it is. It carries its own mutex
// because the fast and long workers run with the sensor lock released and
// may race against the same sensor's camera pose.
type CameraPoseState struct {
	mu   sync.Mutex
	have bool
	pose geom.Pose

	onBootstrap func()
}

// Snapshot returns the current camera pose and whether it has been
// bootstrapped yet.
func (c *CameraPoseState) Snapshot() (geom.Pose, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose, c.have
}

// SetBootstrapHook registers a callback fired exactly once, the moment
// TryBootstrap actually establishes the camera pose. Passing nil disables
// the hook. Used by the owning sensor to log the bootstrap event; the
// hook runs with CameraPoseState's own lock released, so it is free to
// call back into the sensor or do I/O.
func (c *CameraPoseState) SetBootstrapHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBootstrap = fn
}

// TryBootstrap sets the camera pose from the first confident HMD
// observation: camera_pose = objWorld . objCam^-1, so that
// camera_pose.Compose(objCam) == objWorld for this and all later
// observations. It is a no-op if the sensor has already bootstrapped -
// that transition happens at most once per sensor lifetime.
func (c *CameraPoseState) TryBootstrap(objCam, objWorld geom.Pose) (applied bool) {
	c.mu.Lock()
	if c.have {
		c.mu.Unlock()
		return false
	}
	c.pose = objWorld.Compose(objCam.Inverse())
	c.have = true
	hook := c.onBootstrap
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

// Reset clears the bootstrap state, used on sensor teardown.
func (c *CameraPoseState) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.have = false
	c.pose = geom.IdentityPose()
}
