package main

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gsa-connectors/adaptor/adaptor/go/app"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/docserver"
	"github.com/gsa-connectors/adaptor/adaptor/go/feed"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
	"github.com/gsa-connectors/adaptor/go/util"
)

// keySrc names the directory to serve.
const keySrc = "filesystem.src"

// fsAdaptor serves the files below a root directory. Document ids are
// slash-separated paths relative to the root.
type fsAdaptor struct {
	root string
}

func (a *fsAdaptor) Init(ctx context.Context, appCtx *app.Context) error {
	root := appCtx.Config.Get(keySrc, "")
	if root == "" {
		return app.Unrecoverable(skerr.Fmt("%s is required", keySrc))
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return app.Unrecoverable(skerr.Wrap(err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return skerr.Wrapf(err, "reading %s", abs)
	}
	if !info.IsDir() {
		return app.Unrecoverable(skerr.Fmt("%s is not a directory", abs))
	}
	a.root = abs
	sklog.Infof("Serving files below %s", a.root)
	return nil
}

// resolve maps a document id back to a path, refusing ids that escape the
// root.
func (a *fsAdaptor) resolve(id docid.DocId) (string, error) {
	path := filepath.Join(a.root, filepath.FromSlash(string(id)))
	if path != a.root && !strings.HasPrefix(path, a.root+string(filepath.Separator)) {
		return "", skerr.Fmt("id %q resolves outside the served directory", id)
	}
	return path, nil
}

func (a *fsAdaptor) GetDocIds(ctx context.Context, p app.DocIdPusher) error {
	var records []feed.Record
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		record := feed.Record{DocId: docid.DocId(filepath.ToSlash(rel))}
		if info, err := d.Info(); err == nil {
			record.LastModified = info.ModTime()
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return skerr.Wrap(err)
	}
	sklog.Infof("Pushing %d files", len(records))
	if failed, err := p.PushRecords(ctx, records, nil); err != nil {
		return skerr.Wrap(err)
	} else if failed != nil {
		return skerr.Fmt("push gave up at %q", failed.DocId)
	}
	return nil
}

func (a *fsAdaptor) GetDocContent(ctx context.Context, req *docserver.Request, resp *docserver.Response) error {
	path, err := a.resolve(req.DocId())
	if err != nil {
		sklog.Warningf("Refusing %s: %s", req, err)
		return resp.RespondNotFound()
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return resp.RespondNotFound()
	}
	if req.CanRespondWithNoContent(info.ModTime()) {
		return resp.RespondNoContent()
	}

	if contentType := mime.TypeByExtension(filepath.Ext(path)); contentType != "" {
		if err := resp.SetContentType(contentType); err != nil {
			return skerr.Wrap(err)
		}
	}
	if err := resp.SetLastModified(info.ModTime()); err != nil {
		return skerr.Wrap(err)
	}

	f, err := os.Open(path)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer util.Close(f)
	w, err := resp.OutputStream()
	if err != nil {
		return skerr.Wrap(err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}
