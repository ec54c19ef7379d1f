package auth

const (
	PermSchoolCreate   = "school.create"
	PermSchoolRead     = "school.read"
	PermSchoolReadOwn  = "school.read_own"
	PermSchoolUpdate   = "school.update"
	PermSchoolDelete   = "school.delete"
	PermUserRead       = "user.read"
	PermChangePassword = "auth.change_password"
)

// BuiltinPermissions lists every permission a route can require.
var BuiltinPermissions = []string{
	PermSchoolCreate,
	PermSchoolRead,
	PermSchoolReadOwn,
	PermSchoolUpdate,
	PermSchoolDelete,
	PermUserRead,
	PermChangePassword,
}

// RolePlatformAdmin holds every builtin permission. It is seeded for
// super-admins.
const RolePlatformAdmin = "platform_admin"
