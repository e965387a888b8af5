package apiclient

// Operation identifies a typed client call.
type Operation string

const (
	OpLogin               Operation = "login"
	OpSignup              Operation = "signup"
	OpListApprovals       Operation = "list_approvals"
	OpGetApproval         Operation = "get_approval"
	OpDecideApproval      Operation = "decide_approval"
	OpCreateLeave         Operation = "create_leave"
	OpListLeaves          Operation = "list_leaves"
	OpGetLeave            Operation = "get_leave"
	OpTransitionLeave     Operation = "transition_leave"
	OpDeleteLeave         Operation = "delete_leave"
	OpListMarksheets      Operation = "list_marksheets"
	OpGetMarksheet        Operation = "get_marksheet"
	OpTransitionMarksheet Operation = "transition_marksheet"
	OpListNotifications   Operation = "list_notifications"
	OpUnreadCount         Operation = "unread_count"
	OpMarkRead            Operation = "mark_notification_read"
	OpMarkAllRead         Operation = "mark_all_read"
	OpPublicKey           Operation = "push_public_key"
	OpSubscribe           Operation = "push_subscribe"
	OpDeactivate          Operation = "push_deactivate"
	OpNotificationSignal  Operation = "notification_signal"
)

// invalidations lists the topics each mutation makes stale.
var invalidations = map[Operation][]Topic{
	OpSignup:              {TopicApprovals},
	OpDecideApproval:      {TopicApprovals, TopicNotifications},
	OpCreateLeave:         {TopicLeaves, TopicNotifications},
	OpTransitionLeave:     {TopicLeaves, TopicNotifications},
	OpDeleteLeave:         {TopicLeaves},
	OpTransitionMarksheet: {TopicMarksheets, TopicNotifications},
	OpMarkRead:            {TopicNotifications},
	OpMarkAllRead:         {TopicNotifications},
	OpSubscribe:           {TopicPush},
	OpDeactivate:          {TopicPush},
}

// readTopics tags cached GET responses so they can be purged by topic.
var readTopics = map[Operation]Topic{
	OpListApprovals:     TopicApprovals,
	OpGetApproval:       TopicApprovals,
	OpListLeaves:        TopicLeaves,
	OpGetLeave:          TopicLeaves,
	OpListMarksheets:    TopicMarksheets,
	OpGetMarksheet:      TopicMarksheets,
	OpListNotifications: TopicNotifications,
	OpUnreadCount:       TopicNotifications,
	OpPublicKey:         TopicPush,
}

// InvalidatedBy returns the topics op invalidates.
func InvalidatedBy(op Operation) []Topic {
	topics := invalidations[op]
	out := make([]Topic, len(topics))
	copy(out, topics)
	return out
}
