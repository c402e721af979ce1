package backend

// Entry is the minimal view of an existing backend entry needed by the
// validation helpers. Each backend's entry representation (a local stat
// result, a remote object listing) implements it, so the helpers work across
// otherwise-unrelated backends.
type Entry interface {
	IsDirectory() bool
}

// CheckExists fails with ErrNotFound when entry is nil (the path does not
// resolve to an existing entry).
func CheckExists(entry Entry, op, path string) error {
	if entry == nil {
		return &PathError{Op: op, Path: path, Err: ErrNotFound}
	}

	return nil
}

// CheckNotExists fails with ErrAlreadyExists when entry is non-nil and
// overwrite is not allowed.
func CheckNotExists(entry Entry, overwrite bool, op, path string) error {
	if entry != nil && !overwrite {
		return &PathError{Op: op, Path: path, Err: ErrAlreadyExists}
	}

	return nil
}

// CheckIsFile fails with ErrCannotReadDirectory when the entry is a
// directory. The entry must exist.
func CheckIsFile(entry Entry, op, path string) error {
	if entry.IsDirectory() {
		return &PathError{Op: op, Path: path, Err: ErrCannotReadDirectory}
	}

	return nil
}

// CheckNoDirOverwrite fails when a file write targets an existing directory.
func CheckNoDirOverwrite(entry Entry, op, path string) error {
	if entry != nil && entry.IsDirectory() {
		return &PathError{Op: op, Path: path, Err: ErrCannotOverwriteDirectoryWithFile}
	}

	return nil
}

// CheckNoFileOverwrite fails when a directory create targets an existing file.
func CheckNoFileOverwrite(entry Entry, op, path string) error {
	if entry != nil && !entry.IsDirectory() {
		return &PathError{Op: op, Path: path, Err: ErrCannotOverwriteFileWithDirectory}
	}

	return nil
}
