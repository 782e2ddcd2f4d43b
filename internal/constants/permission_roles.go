package constants

import "apolice-backend/internal/domain"

// PermissionRoles maps each permission to the roles allowed to perform it.
var PermissionRoles = map[string][]string{
	ManageProposals:  {domain.RoleBroker, domain.RoleAdvisory, domain.RoleAdmin},
	ViewCommissions:  {domain.RoleBroker, domain.RoleAdvisory, domain.RoleAdmin},
	PayCommissions:   {domain.RoleAdmin},
	LookupTomador:    {domain.RoleBroker, domain.RoleAdvisory, domain.RoleAdmin},
	ViewCredit:       {domain.RoleBroker, domain.RoleAdvisory, domain.RoleAdmin},
	ManageCredit:     {domain.RoleAdmin},
	SubmitCCG:        {domain.RoleAdmin},
	RequeueSignature: {domain.RoleAdmin},
	ViewWebhooks:     {domain.RoleAdmin},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
