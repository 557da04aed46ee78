package core

import (
	"errors"

	"github.com/typhonci/typhon/internal/store"
)

// BuildInfo is the read model for Build.Info: the build row plus its
// task status.
type BuildInfo struct {
	Build  *store.Build
	Status store.StatusKind
}

// GetBuildInfo returns a build and its status.
func (c *Context) GetBuildInfo(buildID int64) (*BuildInfo, error) {
	const op = "build.info"
	b, err := c.build(op, buildID)
	if err != nil {
		return nil, err
	}
	status, err := c.db.Status(b.TaskID)
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return &BuildInfo{Build: b, Status: status}, nil
}

// CancelBuild cancels a live build, unless other runs still reference
// it, in which case it is a no-op. Canceling a build that
// already settled is a BadRequest.
func (c *Context) CancelBuild(buildID int64) error {
	const op = "build.cancel"
	b, err := c.build(op, buildID)
	if err != nil {
		return err
	}
	status, err := c.db.Status(b.TaskID)
	if err != nil {
		return c.internalErr(op, err)
	}
	if status.IsTerminal() {
		return errf(KindBadRequest, op, "build %d already %s", buildID, status)
	}
	c.builds.CancelBuild(buildID)
	return nil
}

// BuildLog returns the build task's accumulated log buffer; it grows
// while the external builder streams, so a live reader observes partial
// logs before the build finishes.
func (c *Context) BuildLog(buildID int64) (string, error) {
	const op = "build.log"
	b, err := c.build(op, buildID)
	if err != nil {
		return "", err
	}
	buf, err := c.db.ReadLog(b.TaskID)
	if err != nil {
		return "", c.internalErr(op, err)
	}
	return buf, nil
}

func (c *Context) build(op string, id int64) (*store.Build, error) {
	b, err := c.db.GetBuild(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errf(KindNotFound, op, "no such build: %d", id)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return b, nil
}
