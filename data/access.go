package data

// AccessMode controls how a byte channel is opened.
// Modes can be combined using bitwise OR.
type AccessMode int

const (
	AccessModeRead   AccessMode = 1 << iota // open for reading
	AccessModeWrite                         // open for writing
	AccessModeAppend                        // position writes at the end
	AccessModeCreate                        // create if not exists
	AccessModeTrunc                         // discard existing content
	AccessModeExcl                          // fail if the path exists (with CREATE)
)

// IsReadOnly checks if the mode only allows reading.
func (m AccessMode) IsReadOnly() bool {
	return m&(AccessModeWrite|AccessModeAppend) == 0
}

func (m AccessMode) HasAppend() bool {
	return m&AccessModeAppend != 0
}

func (m AccessMode) HasCreate() bool {
	return m&AccessModeCreate != 0
}

func (m AccessMode) HasTrunc() bool {
	return m&AccessModeTrunc != 0
}

func (m AccessMode) HasExcl() bool {
	return m&AccessModeExcl != 0
}
