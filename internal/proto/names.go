package proto

var messageNames = map[uint8]string{
	Tlerror:      "Tlerror",
	Rlerror:      "Rlerror",
	Tstatfs:      "Tstatfs",
	Rstatfs:      "Rstatfs",
	Tlopen:       "Tlopen",
	Rlopen:       "Rlopen",
	Tlcreate:     "Tlcreate",
	Rlcreate:     "Rlcreate",
	Tsymlink:     "Tsymlink",
	Rsymlink:     "Rsymlink",
	Tmknod:       "Tmknod",
	Rmknod:       "Rmknod",
	Trename:      "Trename",
	Rrename:      "Rrename",
	Treadlink:    "Treadlink",
	Rreadlink:    "Rreadlink",
	Tgetattr:     "Tgetattr",
	Rgetattr:     "Rgetattr",
	Tsetattr:     "Tsetattr",
	Rsetattr:     "Rsetattr",
	Txattrwalk:   "Txattrwalk",
	Rxattrwalk:   "Rxattrwalk",
	Txattrcreate: "Txattrcreate",
	Rxattrcreate: "Rxattrcreate",
	Treaddir:     "Treaddir",
	Rreaddir:     "Rreaddir",
	Tfsync:       "Tfsync",
	Rfsync:       "Rfsync",
	Tlock:        "Tlock",
	Rlock:        "Rlock",
	Tgetlock:     "Tgetlock",
	Rgetlock:     "Rgetlock",
	Tlink:        "Tlink",
	Rlink:        "Rlink",
	Tmkdir:       "Tmkdir",
	Rmkdir:       "Rmkdir",
	Trenameat:    "Trenameat",
	Rrenameat:    "Rrenameat",
	Tunlinkat:    "Tunlinkat",
	Runlinkat:    "Runlinkat",
	Tversion:     "Tversion",
	Rversion:     "Rversion",
	Tauth:        "Tauth",
	Rauth:        "Rauth",
	Tattach:      "Tattach",
	Rattach:      "Rattach",
	Tflush:       "Tflush",
	Rflush:       "Rflush",
	Twalk:        "Twalk",
	Rwalk:        "Rwalk",
	Tread:        "Tread",
	Rread:        "Rread",
	Twrite:       "Twrite",
	Rwrite:       "Rwrite",
	Tclunk:       "Tclunk",
	Rclunk:       "Rclunk",
	Tremove:      "Tremove",
	Rremove:      "Rremove",
}

// MessageName returns the protocol name of a message type tag, or "unknown"
// for a tag outside the 9P2000.L set. Used for logging and metric labels.
func MessageName(mtype uint8) string {
	if name, ok := messageNames[mtype]; ok {
		return name
	}
	return "unknown"
}
