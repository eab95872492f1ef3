package rope

import (
	"io"
	"net/url"
	"os"
)

// URILoader is the collaborator Editor.Open and Buffer.Save delegate to
// for any path that parses as a URI rather than a bare filesystem path
// (spec.md §4.4/§4.5's "foreign loader" concept). Load returns the
// resource's bytes and a release function to call when the returned
// Fragment is destroyed; Replace atomically overwrites the resource.
type URILoader interface {
	Load(uri string) ([]byte, func(), error)
	Replace(uri string, r io.Reader) error
}

// fileURILoader is the bundled reference URILoader, supporting only the
// file:// scheme. It exists so Editor.New has a usable default without
// requiring every caller to supply their own collaborator; real
// deployments with network-backed schemes (sftp://, s3://, ...) are
// expected to supply their own URILoader (spec.md Non-goals: this core
// does not ship network transports). Built on net/url and os only: a
// single-scheme local passthrough has no shape a richer ecosystem
// library would improve on, so no corpus dependency was a better fit
// than the standard library here.
type fileURILoader struct{}

// NewFileURILoader returns the default file://-only URILoader.
func NewFileURILoader() URILoader {
	return fileURILoader{}
}

func (fileURILoader) Load(uri string) ([]byte, func(), error) {
	path, err := filePathFromURI(uri)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, Translate(err)
	}
	return data, func() {}, nil
}

func (fileURILoader) Replace(uri string, r io.Reader) error {
	path, err := filePathFromURI(uri)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Translate(err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return Translate(err)
	}
	return nil
}

func filePathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", newError(KindBadPathName, err)
	}
	if u.Scheme != "file" {
		return "", &URILoaderError{Domain: "fileloader", Code: "not-found", Message: "unsupported scheme " + u.Scheme}
	}
	return u.Path, nil
}
