package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pionweb/pion"
	"github.com/pionweb/pion/hdr"
	"github.com/pionweb/pion/message"
)

// handlerFactory builds a pion.Handler from the option set a
// `service`/`option` pair (or -o flag) supplied for one resource.
type handlerFactory func(opts map[string]string) pion.Handler

// defaultRegistry is the fixed set of handler names pion-web's config
// file and RESOURCE/HANDLER arguments may refer to. A real deployment
// embedding the pion package would register its own handlers directly
// against pion.Server instead of going through this indirection; this
// binary only needs a closed, known set to demonstrate the wiring.
func defaultRegistry(pluginDir string) map[string]handlerFactory {
	return map[string]handlerFactory{
		"echo":   echoHandler,
		"static": staticHandlerFactory(pluginDir),
	}
}

// echoHandler answers with a small diagnostic body describing the
// request it received: method, resource, query and authenticated
// user, if any (useful for exercising the dispatcher and auth gates
// from curl without a real backend).
func echoHandler(opts map[string]string) pion.Handler {
	greeting := opts["greeting"]
	return func(w *pion.Writer, req *message.Message) {
		resp := w.Message()
		resp.SetStatus(200, "OK")
		resp.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
		if greeting != "" {
			fmt.Fprintln(w, greeting)
		}
		fmt.Fprintf(w, "%s %s\n", req.Method, req.Resource)
		if req.Query != "" {
			fmt.Fprintf(w, "query: %s\n", req.Query)
		}
		if req.User != nil {
			fmt.Fprintf(w, "user: %s\n", req.User.Name)
		}
		w.Send()
	}
}

// staticHandlerFactory serves files under root through pion's
// Writer/Message, honoring a single-range Range request header.
func staticHandlerFactory(root string) handlerFactory {
	return func(opts map[string]string) pion.Handler {
		if r := opts["root"]; r != "" {
			root = r
		}
		return func(w *pion.Writer, req *message.Message) {
			serveStaticFile(w, req, root)
		}
	}
}

func serveStaticFile(w *pion.Writer, req *message.Message, root string) {
	resp := w.Message()
	if root == "" {
		resp.SetStatus(500, "Internal Server Error")
		w.WriteString("static handler: no root directory configured\n")
		w.Send()
		return
	}
	if req.Method != "GET" && req.Method != "HEAD" {
		resp.SetStatus(405, "Method Not Allowed")
		resp.Header.Set(hdr.Allow, "GET, HEAD")
		w.Send()
		return
	}

	clean := filepath.Clean(strings.TrimPrefix(req.Resource, "/"))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		resp.SetStatus(403, "Forbidden")
		w.Send()
		return
	}
	full := filepath.Join(root, clean)

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		resp.SetStatus(404, "Not Found")
		w.Send()
		return
	}
	data, err := os.ReadFile(full)
	if err != nil {
		resp.SetStatus(500, "Internal Server Error")
		w.Send()
		return
	}

	resp.Header.Set(hdr.ContentType, contentTypeByExt(filepath.Ext(full)))
	resp.Header.Set(hdr.LastModified, info.ModTime().UTC().Format(httpTimeFormat))

	if rangeHdr := req.Header.Get(hdr.Range); rangeHdr != "" {
		start, end, ok := parseByteRange(rangeHdr, int64(len(data)))
		if ok {
			resp.SetStatus(206, "Partial Content")
			resp.Header.Set(hdr.ContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.Write(data[start : end+1])
			w.Send()
			return
		}
	}

	resp.SetStatus(200, "OK")
	w.Write(data)
	w.Send()
}

// parseByteRange parses a single-range "bytes=start-end" header value;
// a request for more than one range is rejected (caller falls back to
// a full-body 200 response) rather than answering multipart/byteranges.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if parts[0] == "" {
		// suffix range: last N bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	if parts[1] == "" {
		return start, size - 1, true
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
