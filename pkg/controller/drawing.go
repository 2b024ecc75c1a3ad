package controller

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/netloom/netloom/pkg/models"
)

// DrawingRequest is the caller-supplied drawing payload.
type DrawingRequest struct {
	SVG      string `json:"svg"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Rotation int    `json:"rotation"`
	Locked   bool   `json:"locked"`
}

// CreateDrawing adds a canvas annotation.
func (p *Project) CreateDrawing(req DrawingRequest) (*Drawing, error) {
	if err := p.requireOpened(); err != nil {
		return nil, err
	}
	if req.SVG == "" {
		return nil, fmt.Errorf("drawing svg is required: %w", models.ErrValidation)
	}

	drawing := &Drawing{
		DrawingID: uuid.New().String(),
		ProjectID: p.projectID,
		SVG:       req.SVG,
		X:         req.X,
		Y:         req.Y,
		Z:         req.Z,
		Rotation:  req.Rotation,
		Locked:    req.Locked,
	}

	p.mu.Lock()
	p.drawings[drawing.DrawingID] = drawing
	p.mu.Unlock()

	p.emit("drawing.created", drawing)
	return drawing, nil
}

// GetDrawing resolves a drawing id.
func (p *Project) GetDrawing(drawingID string) (*Drawing, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	drawing, ok := p.drawings[drawingID]
	if !ok {
		return nil, models.ErrDrawingNotFound
	}
	return drawing, nil
}

// ListDrawings returns all drawings of the project.
func (p *Project) ListDrawings() []*Drawing {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Drawing, 0, len(p.drawings))
	for _, drawing := range p.drawings {
		out = append(out, drawing)
	}
	return out
}

// UpdateDrawing edits a drawing in place.
func (p *Project) UpdateDrawing(drawingID string, req DrawingRequest) (*Drawing, error) {
	drawing, err := p.GetDrawing(drawingID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if req.SVG != "" {
		drawing.SVG = req.SVG
	}
	drawing.X = req.X
	drawing.Y = req.Y
	drawing.Z = req.Z
	drawing.Rotation = req.Rotation
	drawing.Locked = req.Locked
	p.mu.Unlock()

	p.emit("drawing.updated", drawing)
	return drawing, nil
}

// DeleteDrawing removes a drawing.
func (p *Project) DeleteDrawing(drawingID string) error {
	if _, err := p.GetDrawing(drawingID); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.drawings, drawingID)
	p.mu.Unlock()

	p.emit("drawing.deleted", map[string]any{"drawing_id": drawingID, "project_id": p.projectID})
	return nil
}
