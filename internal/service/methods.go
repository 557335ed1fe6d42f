// ABOUTME: Operation names shared by the allow-list, metrics and transports

package service

// Operation names. Mutations are subject to the state allow-list.
const (
	MethodStateGetInfo        = "state_get_info"
	MethodAdminAddManagers    = "admin_add_managers"
	MethodAdminRemoveManagers = "admin_remove_managers"
	MethodAdminAddAuditors    = "admin_add_auditors"
	MethodAdminRemoveAuditors = "admin_remove_auditors"
	MethodAdminAddAPIs        = "admin_add_allowed_apis"
	MethodAdminRemoveAPIs     = "admin_remove_allowed_apis"
	MethodAdminListNamespaces = "admin_list_namespaces"
	MethodAuditList           = "list_audit_log"

	MethodNamespaceCreate          = "admin_create_namespace"
	MethodNamespaceGetInfo         = "namespace_get_info"
	MethodNamespaceUpdateInfo      = "namespace_update_info"
	MethodNamespaceDelete          = "namespace_delete"
	MethodNamespaceAddManagers     = "namespace_add_managers"
	MethodNamespaceRemoveManagers  = "namespace_remove_managers"
	MethodNamespaceAddAuditors     = "namespace_add_auditors"
	MethodNamespaceRemoveAuditors  = "namespace_remove_auditors"
	MethodNamespaceAddUsers        = "namespace_add_users"
	MethodNamespaceRemoveUsers     = "namespace_remove_users"
	MethodNamespaceIsMember        = "namespace_is_member"
	MethodNamespaceListSettingKeys = "namespace_list_setting_keys"
	MethodNamespaceTopUp           = "namespace_top_up"

	MethodNamespaceAddDelegators    = "namespace_add_delegator"
	MethodNamespaceRemoveDelegators = "namespace_remove_delegator"
	MethodNamespaceGetDelegators    = "namespace_get_delegators"
	MethodNamespaceFixedIdentity    = "namespace_get_fixed_identity"
	MethodNamespaceSignDelegation   = "namespace_sign_delegation"
	MethodGetDelegation             = "get_delegation"

	MethodSettingCreate        = "setting_create"
	MethodSettingGet           = "setting_get"
	MethodSettingGetInfo       = "setting_get_info"
	MethodSettingGetArchived   = "setting_get_archived_payload"
	MethodSettingUpdateInfo    = "setting_update_info"
	MethodSettingUpdatePayload = "setting_update_payload"
	MethodSettingAddReaders    = "setting_add_readers"
	MethodSettingRemoveReaders = "setting_remove_readers"
	MethodECDHSettingGet       = "ecdh_setting_get"
	MethodECDHCoseEncryptedKey = "ecdh_cose_encrypted_key"
	MethodVetKDPublicKey       = "vetkd_public_key"
	MethodVetKDEncryptedKey    = "vetkd_encrypted_key"
	MethodNamespacePublicKey   = "namespace_public_key"
	MethodNamespaceSign        = "namespace_sign"
	MethodSignIdentity         = "sign_identity"
	MethodIdentityPublicKey    = "identity_public_key"
)
