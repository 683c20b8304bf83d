package filesystem

const (
	// TemporaryNamePrefix is the file name prefix used for all temporary files
	// and directories created by Grivet. Filesystem watching does not filter
	// paths by this prefix. It may be suffixed with additional elements if
	// desired.
	TemporaryNamePrefix = ".grivet-temporary-"

	// LooseObjectTemporaryNamePrefix is the file name prefix used for
	// intermediate temporary files created when writing loose objects. These
	// live in the object directory itself (so that the final link is always
	// intra-device) and are thus named to match the conventions of other
	// version control tooling operating on the same directories.
	LooseObjectTemporaryNamePrefix = "tmp_obj_"
)
