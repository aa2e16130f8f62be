package clock

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
)

// ZoneLister supplies the timezone identifiers known to the platform, sorted
// lexicographically. Implementations must return the same snapshot on every call and
// callers must not modify it.
type ZoneLister interface {
	Zones() ([]string, error)
}

// ZoneListerFunc adapts a function to the ZoneLister interface.
type ZoneListerFunc func() ([]string, error)

// StaticZones is a ZoneLister over a fixed list of identifiers.
type StaticZones []string

// FSZones lists the zones of a zoneinfo tree, such as os.DirFS("/usr/share/zoneinfo")
// or an opened zoneinfo.zip.
type FSZones struct {
	FS fs.FS
}

const tzifMagic = "TZif"

var (
	// Locations searched for a zoneinfo tree, in the same order time.LoadLocation uses.
	platformZoneDirs = []string{
		"/usr/share/zoneinfo/",
		"/usr/share/lib/zoneinfo/",
		"/usr/lib/locale/TZ/",
	}

	// Directories holding alternative copies of the database.
	skippedZoneDirs = []string{"posix", "right"}
	// Files that look like zones but are not identifiers.
	skippedZoneFiles = []string{"posixrules", "localtime"}

	errNoZoneinfo = errors.New("no zoneinfo database found")

	platformZones = sync.OnceValues(loadPlatformZones)
)

// PlatformZones returns the ZoneLister backed by the zoneinfo database of the host.
// The database is read once per process, on first use.
func PlatformZones() ZoneLister {
	return ZoneListerFunc(platformZones)
}

// Zones implements ZoneLister.
func (f ZoneListerFunc) Zones() ([]string, error) {
	return f()
}

// Zones implements ZoneLister.
func (z StaticZones) Zones() ([]string, error) {
	zones := slices.Clone([]string(z))
	slices.Sort(zones)
	return slices.Compact(zones), nil
}

// Zones implements ZoneLister.
func (z FSZones) Zones() ([]string, error) {
	return walkZoneinfo(z.FS)
}

func loadPlatformZones() ([]string, error) {
	var errs []error

	for _, src := range zoneSources() {
		zones, err := src()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(zones) > 0 {
			return zones, nil
		}
	}

	if len(errs) == 0 {
		return nil, errNoZoneinfo
	}
	return nil, fmt.Errorf("%w: %w", errNoZoneinfo, errors.Join(errs...))
}

func zoneSources() []func() ([]string, error) {
	var sources []func() ([]string, error)

	if zoneinfo := os.Getenv("ZONEINFO"); zoneinfo != "" {
		sources = append(sources, func() ([]string, error) {
			info, err := os.Stat(zoneinfo)
			if err != nil {
				return nil, fmt.Errorf("failed to stat ZONEINFO: %w", err)
			}
			if info.IsDir() {
				return dirZones(zoneinfo)
			}
			return zipZones(zoneinfo)
		})
	}

	for _, dir := range platformZoneDirs {
		sources = append(sources, func() ([]string, error) {
			return dirZones(dir)
		})
	}

	//nolint:staticcheck // GOROOT is where the toolchain ships its own zoneinfo.zip.
	sources = append(sources, func() ([]string, error) {
		return zipZones(filepath.Join(runtime.GOROOT(), "lib", "time", "zoneinfo.zip"))
	})

	return sources
}

func dirZones(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	zones, err := walkZoneinfo(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return zones, nil
}

func zipZones(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()

	zones, err := walkZoneinfo(&r.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	return zones, nil
}

func walkZoneinfo(fsys fs.FS) ([]string, error) {
	var zones []string

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if slices.Contains(skippedZoneDirs, path) {
				return fs.SkipDir
			}
			return nil
		}
		if slices.Contains(skippedZoneFiles, path) {
			return nil
		}
		if isTZif(fsys, path) {
			zones = append(zones, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(zones)
	return zones, nil
}

func isTZif(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, len(tzifMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == tzifMagic
}
