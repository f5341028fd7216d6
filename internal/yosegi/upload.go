package yosegi

import (
	"fmt"
	"path/filepath"
)

// uploadArtifacts publishes a freshly built package to the configured
// bucket under <ns>/<name>/<buildinfo_hash>/, mirroring the layout the
// build-cache client fetches from. The usable sentinel goes up last so a
// half-uploaded entry is never considered valid.
func (w *World) uploadArtifacts(p *Package) error {
	if w.uploader == nil {
		return nil
	}
	ctx := w.exec.Context
	base := fmt.Sprintf("%s/%s/%s", p.getNS().getName(), p.getName(), p.buildinfoHash)

	if err := w.uploader.UploadLocalFile(ctx, base+"/staging.tar", p.stagingTarball()); err != nil {
		return err
	}
	if err := w.uploader.UploadLocalFile(ctx, base+"/install.tar", p.installTarball()); err != nil {
		return err
	}
	if p.isHashingOutput() {
		info := filepath.Join(p.builddir().getPath(), outputInfoFile)
		if err := w.uploader.UploadLocalFile(ctx, base+"/output.info", info); err != nil {
			return err
		}
	}
	if err := w.uploader.UploadBytes(ctx, base+"/usable", []byte("usable\n")); err != nil {
		return err
	}
	p.log("Uploaded build artifacts")
	return nil
}
