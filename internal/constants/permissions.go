package constants

const (
	ManageProposals  = "manage_proposals"
	ViewCommissions  = "view_commissions"
	PayCommissions   = "pay_commissions"
	LookupTomador    = "lookup_tomador"
	ViewCredit       = "view_credit"
	ManageCredit     = "manage_credit"
	SubmitCCG        = "submit_ccg"
	RequeueSignature = "requeue_signature"
	ViewWebhooks     = "view_webhooks"
)
