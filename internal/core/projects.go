package core

import (
	"encoding/json"
	"errors"

	"github.com/typhonci/typhon/internal/events"
	"github.com/typhonci/typhon/internal/store"
)

// Declaration is the parsed form of a project's declaration document: a
// JSON object naming the project's metadata, its actions bundle, and
// the jobsets it declares (jobset name -> flake reference).
type Declaration struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Homepage    string            `json:"homepage,omitempty"`
	ActionsPath string            `json:"actions,omitempty"`
	Jobsets     map[string]string `json:"jobsets"`
}

// ProjectInfo is the read model for Project.Info: the project row plus
// its jobsets.
type ProjectInfo struct {
	Project *store.Project
	Jobsets []*store.Jobset
}

// ListProjects returns every project.
func (c *Context) ListProjects() ([]*store.Project, error) {
	projects, err := c.db.ListProjects()
	if err != nil {
		return nil, c.internalErr("project.list", err)
	}
	return projects, nil
}

// CreateProject inserts a new, empty project. A duplicate name is a
// BadRequest and leaves state unchanged.
func (c *Context) CreateProject(name string) (*store.Project, error) {
	if name == "" {
		return nil, errf(KindBadRequest, "project.create", "project name must not be empty")
	}
	p, err := c.db.CreateProject(name)
	if errors.Is(err, store.ErrProjectAlreadyExists) {
		return nil, errOf(KindBadRequest, "project.create", err)
	}
	if err != nil {
		return nil, c.internalErr("project.create", err)
	}
	c.bus.Emit(events.NewEvent(events.ProjectUpdated).WithProject(p.ID))
	return p, nil
}

// GetProjectInfo returns a project and its jobsets.
func (c *Context) GetProjectInfo(name string) (*ProjectInfo, error) {
	p, err := c.project("project.info", name)
	if err != nil {
		return nil, err
	}
	jobsets, err := c.db.ListJobsets(p.ID)
	if err != nil {
		return nil, c.internalErr("project.info", err)
	}
	return &ProjectInfo{Project: p, Jobsets: jobsets}, nil
}

// DeleteProject removes a project; the store cascades to jobsets,
// evaluations, jobs, and runs.
func (c *Context) DeleteProject(name string) error {
	p, err := c.project("project.delete", name)
	if err != nil {
		return err
	}
	if err := c.db.DeleteProject(p.ID); err != nil {
		return c.internalErr("project.delete", err)
	}
	c.bus.Emit(events.NewEvent(events.ProjectUpdated).WithProject(p.ID))
	return nil
}

// SetDecl replaces a project's declaration document. The declaration
// takes effect on the next Refresh.
func (c *Context) SetDecl(name, declaration string) error {
	p, err := c.project("project.set_decl", name)
	if err != nil {
		return err
	}
	if _, err := parseDeclaration(declaration); err != nil {
		return errOf(KindBadRequest, "project.set_decl", err)
	}
	if err := c.db.SetDecl(p.ID, declaration, p.LockedDeclaration); err != nil {
		return c.internalErr("project.set_decl", err)
	}
	c.bus.Emit(events.NewEvent(events.ProjectUpdated).WithProject(p.ID))
	return nil
}

// SetPrivateKey replaces a project's signing key material.
func (c *Context) SetPrivateKey(name, key string) error {
	p, err := c.project("project.set_private_key", name)
	if err != nil {
		return err
	}
	if err := c.db.SetPrivateKey(p.ID, key); err != nil {
		return c.internalErr("project.set_private_key", err)
	}
	c.bus.Emit(events.NewEvent(events.ProjectUpdated).WithProject(p.ID))
	return nil
}

// RefreshProject re-reads a project's declaration, locks it, updates
// the project's metadata and actions bundle, and reconciles the jobset
// table against what the declaration names. Existing jobsets keep
// their identity so their evaluation history survives.
func (c *Context) RefreshProject(name string) (*ProjectInfo, error) {
	p, err := c.project("project.refresh", name)
	if err != nil {
		return nil, err
	}
	decl, err := parseDeclaration(p.Declaration)
	if err != nil {
		return nil, errOf(KindBadRequest, "project.refresh", err)
	}

	var actionsPath *string
	if decl.ActionsPath != "" {
		actionsPath = &decl.ActionsPath
	}
	if err := c.db.RefreshProject(p.ID, p.Declaration, actionsPath, decl.Title, decl.Description, decl.Homepage); err != nil {
		return nil, c.internalErr("project.refresh", err)
	}

	for jsName, flakeRef := range decl.Jobsets {
		js, err := c.db.UpsertJobset(p.ID, jsName, flakeRef)
		if err != nil {
			return nil, c.internalErr("project.refresh", err)
		}
		c.bus.Emit(events.NewEvent(events.JobsetUpdated).WithProject(p.ID).WithJobset(js.ID))
	}
	c.bus.Emit(events.NewEvent(events.ProjectUpdated).WithProject(p.ID))

	return c.GetProjectInfo(name)
}

// UpdateJobsets is another name for RefreshProject and performs the
// same full refresh, metadata and actions bundle included; the request
// surface exposes both names.
func (c *Context) UpdateJobsets(name string) (*ProjectInfo, error) {
	return c.RefreshProject(name)
}

func (c *Context) project(op, name string) (*store.Project, error) {
	p, err := c.db.GetProject(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errf(KindNotFound, op, "no such project: %s", name)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return p, nil
}

func parseDeclaration(declaration string) (*Declaration, error) {
	if declaration == "" {
		return nil, errors.New("project has no declaration")
	}
	var decl Declaration
	if err := json.Unmarshal([]byte(declaration), &decl); err != nil {
		return nil, err
	}
	return &decl, nil
}
