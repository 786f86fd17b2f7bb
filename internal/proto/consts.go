// Package proto implements the 9P2000.L wire format: message type tags,
// the qid/stat/dirent/lock structures, and the codec that turns a framed
// byte stream into typed messages and back.
package proto

// Message type tags. Every T-message's R-counterpart is T+1, except
// Rlerror which replaces the R-half of every message on failure.
const (
	Tlerror = 6
	Rlerror = 7

	Tstatfs = 8
	Rstatfs = 9

	Tlopen = 12
	Rlopen = 13

	Tlcreate = 14
	Rlcreate = 15

	Tsymlink = 16
	Rsymlink = 17

	Tmknod = 18
	Rmknod = 19

	Trename = 20
	Rrename = 21

	Treadlink = 22
	Rreadlink = 23

	Tgetattr = 24
	Rgetattr = 25

	Tsetattr = 26
	Rsetattr = 27

	Txattrwalk = 30
	Rxattrwalk = 31

	Txattrcreate = 32
	Rxattrcreate = 33

	Treaddir = 40
	Rreaddir = 41

	Tfsync = 50
	Rfsync = 51

	Tlock = 52
	Rlock = 53

	Tgetlock = 54
	Rgetlock = 55

	Tlink = 70
	Rlink = 71

	Tmkdir = 72
	Rmkdir = 73

	Trenameat = 74
	Rrenameat = 75

	Tunlinkat = 76
	Runlinkat = 77

	Tversion = 100
	Rversion = 101

	Tauth = 102
	Rauth = 103

	Tattach = 104
	Rattach = 105

	Tflush = 108
	Rflush = 109

	Twalk  = 110
	Rwalk  = 111
	Tread  = 116
	Rread  = 117
	Twrite = 118
	Rwrite = 119

	Tclunk = 120
	Rclunk = 121

	Tremove = 122
	Rremove = 123
)

// Sentinel values denoting "absent".
const (
	NOFID    uint32 = 0xFFFFFFFF
	NOTAG    uint16 = 0xFFFF
	NONUNAME uint32 = 0xFFFFFFFF
)

// Version is the only version string this server negotiates successfully.
const Version = "9P2000.L"

// Unknown is returned in RVersion when the client's proposed version isn't
// recognized; the session stays Unversioned.
const Unknown = "unknown"

// Qid.Type bits.
const (
	QTDIR    = 0x80
	QTAPPEND = 0x40
	QTEXCL   = 0x20
	QTMOUNT  = 0x10
	QTAUTH   = 0x08
	QTTMP    = 0x04
	QTSYMLINK = 0x02
	QTLINK   = 0x01
	QTFILE   = 0x00
)

// Setattr valid-mask bits (Linux ATTR_* values, struct p9_iattr_dotl).
const (
	SetattrMode  = 1 << 0
	SetattrUID   = 1 << 1
	SetattrGID   = 1 << 2
	SetattrSize  = 1 << 3
	SetattrAtime = 1 << 4
	SetattrMtime = 1 << 5
	SetattrCtime = 1 << 6
	SetattrAtimeSet = 1 << 7
	SetattrMtimeSet = 1 << 8
)

// Getattr request mask bits (P9_GETATTR_*); GetattrBasic covers the fields
// every stat() call needs and is what the reference back-end always fills.
const (
	GetattrMode   = 1 << 0
	GetattrNlink  = 1 << 1
	GetattrUID    = 1 << 2
	GetattrGID    = 1 << 3
	GetattrRdev   = 1 << 4
	GetattrAtime  = 1 << 5
	GetattrMtime  = 1 << 6
	GetattrCtime  = 1 << 7
	GetattrIno    = 1 << 8
	GetattrSize   = 1 << 9
	GetattrBlocks = 1 << 10
	GetattrBtime  = 1 << 11
	GetattrGen    = 1 << 12
	GetattrDataVersion = 1 << 13

	GetattrBasic = GetattrMode | GetattrNlink | GetattrUID | GetattrGID | GetattrRdev |
		GetattrAtime | GetattrMtime | GetattrCtime | GetattrIno | GetattrSize | GetattrBlocks
	GetattrAll = GetattrBasic | GetattrBtime | GetattrGen | GetattrDataVersion
)

// Open/create flags (Linux open(2) values as used by Tlopen/Tlcreate).
const (
	ORDONLY = 0x00000000
	OWRONLY = 0x00000001
	ORDWR   = 0x00000002
	OTRUNC  = 0x00000200
	OAPPEND = 0x00000400
	OEXCL   = 0x00000080
)

// Lock type (P9_LOCK_TYPE_*).
const (
	LockTypeRdlck = 0
	LockTypeWrlck = 1
	LockTypeUnlck = 2
)

// Lock flags (P9_LOCK_FLAGS_*).
const (
	LockFlagsBlock   = 1
	LockFlagsReclaim = 2
)

// Lock/Getlock status (P9_LOCK_*).
const (
	LockSuccess = 0
	LockBlocked = 1
	LockError   = 2
	LockGrace   = 3
)

// MinMsize is the smallest msize the server will negotiate: enough
// headroom for the largest fixed-size message header (Rread's
// size+type+tag+count prefix) plus a safety margin. A Tversion proposing
// less is rejected with EINVAL.
const MinMsize = 4096
