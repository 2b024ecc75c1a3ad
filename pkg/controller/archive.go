package controller

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/models"
)

// metaFileName records export-time facts that do not belong in the topology.
const metaFileName = "meta.json"

type archiveMeta struct {
	RunningNodes []string `json:"running_nodes,omitempty"`
}

// Export streams the project as a gzipped tar: the normalized topology (all
// node statuses stopped), project-files, compute-side node archives, and
// optionally nested snapshots. Running nodes are noted in meta.json.
func (p *Project) Export(ctx context.Context, w io.Writer, includeSnapshots bool) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := p.writeExportTopology(tw); err != nil {
		return err
	}

	var running []string
	for _, node := range p.ListNodes() {
		if !node.NodeType.AlwaysOn() && node.Status != StatusStopped {
			running = append(running, node.NodeID)
		}
	}
	if len(running) > 0 {
		meta, err := json.Marshal(archiveMeta{RunningNodes: running})
		if err != nil {
			return fmt.Errorf("failed to marshal archive meta: %w", err)
		}
		if err := writeTarFile(tw, metaFileName, meta); err != nil {
			return err
		}
	}

	if err := p.addDirToArchive(tw, projectFilesDir); err != nil {
		return err
	}
	if includeSnapshots {
		if err := p.addDirToArchive(tw, snapshotsDir); err != nil {
			return err
		}
	}

	p.spliceComputeArchives(ctx, tw)

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

// writeExportTopology emits project.gns3 with every node stopped, so an
// import of a running project comes up quiesced. The doc holds live node
// adapters; the quiesced statuses go onto detached copies.
func (p *Project) writeExportTopology(tw *tar.Writer) error {
	doc := p.topologyDoc()
	nodes := make([]*Node, len(doc.Topology.Nodes))
	for i, node := range doc.Topology.Nodes {
		snap := node.clone()
		if !snap.NodeType.AlwaysOn() {
			snap.Status = StatusStopped
		}
		nodes[i] = snap
	}
	doc.Topology.Nodes = nodes
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}
	data = append(data, '\n')
	return writeTarFile(tw, topologyFileName, data)
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// addDirToArchive walks a project subdirectory into the tar, regular files
// only, paths relative to the project root.
func (p *Project) addDirToArchive(tw *tar.Writer, dir string) error {
	root := filepath.Join(p.path, dir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(p.path, path)
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", rel, err)
		}
		defer func() { _ = file.Close() }()

		info, err := file.Stat()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: filepath.ToSlash(rel),
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = io.Copy(tw, file)
		return err
	})
}

// spliceComputeArchives pulls each node's compute-side directory as a tar
// stream and re-emits its entries under project-files/<node_id>/. Failures
// are logged and skipped; controller-side files already cover the rest.
func (p *Project) spliceComputeArchives(ctx context.Context, tw *tar.Writer) {
	for _, node := range p.ListNodes() {
		proxy, err := p.proxyForNode(node)
		if err != nil || !proxy.Connected() {
			continue
		}

		path := driverPath(p.projectID, node.NodeType, "/"+node.NodeID+"/archive")
		stream, err := proxy.OpenStream(ctx, path)
		if err != nil {
			logger.Debug("node archive not available from compute",
				logger.KeyProjectID, p.projectID,
				logger.KeyNodeID, node.NodeID,
				logger.KeyError, err,
			)
			continue
		}

		prefix := projectFilesDir + "/" + node.NodeID + "/"
		tr := tar.NewReader(stream)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				logger.Warn("broken node archive stream",
					logger.KeyNodeID, node.NodeID,
					logger.KeyError, err,
				)
				break
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			clean, ok := safeArchivePath(hdr.Name)
			if !ok {
				continue
			}
			hdr.Name = prefix + clean
			if err := tw.WriteHeader(hdr); err != nil {
				break
			}
			if _, err := io.Copy(tw, tr); err != nil {
				break
			}
		}
		_ = stream.Close()
	}
}

// safeArchivePath rejects absolute paths and parent traversal.
func safeArchivePath(name string) (string, bool) {
	clean := filepath.ToSlash(filepath.Clean(name))
	if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// ImportProject unpacks an exported archive into a new project directory,
// rewriting the project id (and all entity UUIDs when they collide with an
// existing project) and registering the result closed.
func (c *Controller) ImportProject(ctx context.Context, projectID, name string, r io.Reader) (*Project, error) {
	if projectID == "" {
		projectID = uuid.New().String()
	} else if _, err := uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("invalid project_id: %w", models.ErrValidation)
	}
	if _, err := c.GetProject(projectID); err == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, models.ErrDuplicateProject)
	}

	path := filepath.Join(c.projectsDir(), projectID)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	if err := unpackArchive(r, path); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}

	doc, err := readTopologyFile(filepath.Join(path, topologyFileName))
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}

	// The archive's entity ids are kept unless they collide with ids the
	// controller already knows.
	if c.hasEntityCollisions(doc) {
		doc = remapTopologyUUIDs(doc)
	}
	doc.ProjectID = projectID
	if name != "" {
		doc.Name = name
	}
	for _, existing := range c.ListProjects() {
		if strings.EqualFold(existing.Name(), doc.Name) {
			doc.Name = doc.Name + " - imported"
			break
		}
	}

	project := newProject(c, projectID, path, defaultProjectSettings(doc.Name))
	if err := project.applyTopology(doc); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	if err := project.Commit(); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	if err := c.registerProject(ctx, project, false); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	return project, nil
}

// unpackArchive extracts a gzipped tar under dir, refusing absolute paths,
// parent traversal and non-regular entries.
func unpackArchive(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("archive is not gzip: %w", models.ErrValidation)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("broken archive: %w", err)
		}

		clean, ok := safeArchivePath(hdr.Name)
		if !ok {
			return fmt.Errorf("archive entry %q escapes the project directory: %w", hdr.Name, models.ErrValidation)
		}

		target := filepath.Join(dir, filepath.FromSlash(clean))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return err
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, tr); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials are dropped by design of the format.
			return fmt.Errorf("archive entry %q has unsupported type: %w", hdr.Name, models.ErrValidation)
		}
	}
}

func readTopologyFile(path string) (*topologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive has no %s: %w", topologyFileName, models.ErrValidation)
	}
	var doc topologyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt topology in archive: %w", err)
	}
	return &doc, nil
}

// hasEntityCollisions reports whether any node/link/drawing id of the
// incoming document is already present in a known project.
func (c *Controller) hasEntityCollisions(doc *topologyFile) bool {
	for _, project := range c.ListProjects() {
		for _, node := range doc.Topology.Nodes {
			if _, err := project.GetNode(node.NodeID); err == nil {
				return true
			}
		}
		for _, link := range doc.Topology.Links {
			if _, err := project.GetLink(link.LinkID); err == nil {
				return true
			}
		}
		for _, drawing := range doc.Topology.Drawings {
			if _, err := project.GetDrawing(drawing.DrawingID); err == nil {
				return true
			}
		}
	}
	return false
}

// remapTopologyUUIDs rewrites every node/link/drawing id consistently,
// including cross-references (link endpoints), by textual substitution over
// the marshaled document.
func remapTopologyUUIDs(doc *topologyFile) *topologyFile {
	mapping := make(map[string]string)
	for _, node := range doc.Topology.Nodes {
		mapping[node.NodeID] = uuid.New().String()
	}
	for _, link := range doc.Topology.Links {
		mapping[link.LinkID] = uuid.New().String()
	}
	for _, drawing := range doc.Topology.Drawings {
		mapping[drawing.DrawingID] = uuid.New().String()
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	text := string(raw)
	for old, fresh := range mapping {
		text = strings.ReplaceAll(text, old, fresh)
	}

	var remapped topologyFile
	if err := json.Unmarshal([]byte(text), &remapped); err != nil {
		return doc
	}
	return &remapped
}
