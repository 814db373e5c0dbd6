package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tracelens/backend/internal/config"
	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/parser"
	"github.com/tracelens/backend/internal/render"
	"github.com/tracelens/backend/internal/upload"
)

// schema loads the schema file and overlays the profile, if configured.
func (a *app) schema() (*config.SchemaFile, error) {
	f, err := config.LoadSchema(a.v.GetString("schema"))
	if err != nil {
		return nil, err
	}
	if path := a.v.GetString("profile"); path != "" {
		p, err := config.LoadProfile(path)
		if err != nil {
			return nil, err
		}
		f = config.ApplyProfile(f, *p)
	}
	return f, nil
}

// objectMode maps the --object flag to a forced decoder, nil meaning detect.
func (a *app) objectMode() (*bool, error) {
	switch strings.ToLower(a.v.GetString("object")) {
	case "", "auto":
		return nil, nil
	case "on", "true", "yes":
		on := true
		return &on, nil
	case "off", "false", "no":
		off := false
		return &off, nil
	}
	return nil, fmt.Errorf("invalid --object value %q (want auto, on or off)", a.v.GetString("object"))
}

func (a *app) renderer() (render.Renderer, error) {
	switch strings.ToLower(a.v.GetString("output")) {
	case "", "text":
		return render.NewTextRenderer(a.out, true), nil
	case "json":
		return render.NewJSONRenderer(a.out), nil
	}
	return nil, fmt.Errorf("invalid --output value %q (want text or json)", a.v.GetString("output"))
}

// load ingests one file, expanding .gz archives first.
func (a *app) load(ctx context.Context, path string, schema models.Schema) (*models.Table, error) {
	mode, err := a.objectMode()
	if err != nil {
		return nil, err
	}

	plain, cleanup, err := upload.ExpandToTemp(ctx, path, "")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	reg := parser.GetGlobalRegistry()
	var p parser.Parser
	switch {
	case mode == nil:
		p, err = reg.FindParser(plain)
	case *mode:
		p, err = reg.GetParserByName("object")
	default:
		p, err = reg.GetParserByName("text")
	}
	if err != nil {
		return nil, err
	}

	log := a.logger.With("file", path, "decoder", p.Name())
	start := time.Now()
	table, err := p.ParseWithProgress(ctx, plain, schema, func(lines int, read, total int64) {
		log.Debug("ingesting", "lines", lines, "bytes", read, "total", total)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info("ingested", "records", len(table.Records), "elapsed", time.Since(start))
	return table, nil
}
