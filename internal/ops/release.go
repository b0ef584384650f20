package ops

import (
	"errors"
	"fmt"
	"path"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// ErrNoRelease is returned when no release directory matches.
var ErrNoRelease = errors.New("no matching release")

// SelectRelease picks a release directory name. With requested set it matches the
// directory by name or by version ("1.2.0" matches "v1.2.0"). Otherwise it returns the
// latest release.
func SelectRelease(names []string, requested string) (string, error) {
	if requested != "" {
		want, werr := version.NewVersion(requested)
		for _, n := range names {
			if n == requested {
				return n, nil
			}
			if werr != nil {
				continue
			}
			if v, err := version.NewVersion(n); err == nil && v.Equal(want) {
				return n, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrNoRelease, requested)
	}

	latest, err := validation.LatestRelease(names)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRelease, err)
	}
	return latest, nil
}

// parseListing splits `ls -1` output into names.
func parseListing(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// listReleasesCommand lists the release directories of appDir.
func listReleasesCommand(appDir string) string {
	return "ls -1 " + shellQuote(path.Join(appDir, "releases"))
}

// switchReleaseCommand atomically repoints appDir/current at releases/<release>: the
// new link is created beside it and renamed over the old one.
func switchReleaseCommand(appDir, release string) string {
	rel := path.Join("releases", release)
	return fmt.Sprintf("cd %s && test -d %s && ln -sfn %s current.tmp && mv -T current.tmp current",
		shellQuote(appDir), shellQuote(rel), shellQuote(rel))
}
