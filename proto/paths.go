package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// Tablet directories are zero-padded decimal numbers under the table dir:
//
//	<prefix>/<table>/<tablet_no>/<lg_no>/<file_no>.sst
//
// A full file number folds the owning tablet number into the high 32 bits so
// an inherited file keeps naming its origin tablet after splits.

const tabletPathWidth = 10

// TabletPathFromNo formats a tablet number as its directory name.
func TabletPathFromNo(no TabletNo) string {
	return fmt.Sprintf("%0*d", tabletPathWidth, no)
}

// TabletNoFromPath parses the trailing numeric component of a tablet path.
func TabletNoFromPath(path string) (TabletNo, error) {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		path = path[idx+1:]
	}
	no, err := strconv.ParseUint(path, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad tablet path %q: %w", path, err)
	}
	return no, nil
}

// BuildFullFileNumber folds the tablet number into an engine file number.
func BuildFullFileNumber(tabletNo TabletNo, fileNo uint64) FileNo {
	return tabletNo<<32 | (fileNo & 0xffffffff)
}

// ParseFullFileNumber splits a full file number back into its parts.
func ParseFullFileNumber(full FileNo) (tabletNo TabletNo, fileNo uint64) {
	return full >> 32, full & 0xffffffff
}

// SSTFilePath builds the filesystem path of one sst file.
func SSTFilePath(prefix, table string, tabletNo TabletNo, lg LgNo, full FileNo) string {
	_, fileNo := ParseFullFileNumber(full)
	return fmt.Sprintf("%s/%s/%s/%d/%08d.sst", prefix, table, TabletPathFromNo(tabletNo), lg, fileNo)
}

// SSTFileNoFromName parses "<file_no>.sst"; ok is false for non-sst entries.
func SSTFileNoFromName(name string) (fileNo uint64, ok bool) {
	if !strings.HasSuffix(name, ".sst") {
		return 0, false
	}
	no, err := strconv.ParseUint(strings.TrimSuffix(name, ".sst"), 10, 64)
	if err != nil {
		return 0, false
	}
	return no, true
}

// TabletDirPath builds the directory of one tablet.
func TabletDirPath(prefix, table string, tabletNo TabletNo) string {
	return prefix + "/" + table + "/" + TabletPathFromNo(tabletNo)
}

// LgDirPath builds the directory of one locality group.
func LgDirPath(prefix, table string, tabletNo TabletNo, lg LgNo) string {
	return fmt.Sprintf("%s/%d", TabletDirPath(prefix, table, tabletNo), lg)
}
