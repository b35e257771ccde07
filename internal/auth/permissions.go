package auth

import "strings"

const (
	PermProcurementCreate  = "procurement.create"
	PermProcurementApprove = "procurement.approve"
	PermProcurementOrder   = "procurement.order"
	PermProcurementView    = "procurement.view"
	PermUsersManage        = "users.manage"
	PermRolesManage        = "roles.manage"
	PermVesselsManage      = "vessels.manage"
	PermDocumentsUpload    = "documents.upload"
	PermDocumentsDelete    = "documents.delete"
)

var BuiltinPermissions = []Permission{
	{Name: PermProcurementCreate, Description: "Raise purchase requests"},
	{Name: PermProcurementApprove, Description: "Approve or reject purchase requests"},
	{Name: PermProcurementOrder, Description: "Generate and manage purchase orders"},
	{Name: PermProcurementView, Description: "View purchase requests and orders"},
	{Name: PermUsersManage, Description: "Create, disable and delete users"},
	{Name: PermRolesManage, Description: "Manage roles and their permissions"},
	{Name: PermVesselsManage, Description: "Register and update vessels"},
	{Name: PermDocumentsUpload, Description: "Upload documents"},
	{Name: PermDocumentsDelete, Description: "Delete documents and folders"},
}

// PermissionName joins module and action into the unique permission name.
func PermissionName(module, action string) string {
	return strings.ToLower(strings.TrimSpace(module)) + "." + strings.ToLower(strings.TrimSpace(action))
}

// SplitPermissionName returns module and action from "module.action".
func SplitPermissionName(name string) (module, action string) {
	name = strings.ToLower(strings.TrimSpace(name))
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
