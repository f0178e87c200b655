package entities

// Bus topics emitted by the entity layer. Trigger topics carry a
// TriggerEvent payload and are consumed by the triggers module; the
// notification topic carries a models.Notification and is fanned out to
// connected operators.
const (
	// Lifecycle triggers. Tag topics are emitted with the tag name appended,
	// e.g. "tag:onAdd:todo-web".
	TriggerWaveAdd           = "wave:onAdd"
	TriggerIPAdd             = "ip:onAdd"
	TriggerPortServiceUpdate = "port:onServiceUpdate"
	TriggerTagAddPrefix      = "tag:onAdd:"
	TriggerTagRemovePrefix   = "tag:onRemove:"

	// Active-directory triggers.
	TriggerNewDC                 = "AD:onNewDC"
	TriggerNewSQLServer          = "AD:onNewSQLServer"
	TriggerNewDomainDiscovered   = "AD:onNewDomainDiscovered"
	TriggerFirstUserOnDC         = "AD:onFirstUserOnDC"
	TriggerFirstAdminOnDC        = "AD:onFirstAdminOnDC"
	TriggerNewUserOnDC           = "AD:onNewUserOnDC"
	TriggerNewAdminOnDC          = "AD:onNewAdminOnDC"
	TriggerFirstUserOnComputer   = "AD:onFirstUserOnComputer"
	TriggerFirstAdminOnComputer  = "AD:onFirstAdminOnComputer"
	TriggerNewUserOnComputer     = "AD:onNewUserOnComputer"
	TriggerNewAdminOnComputer    = "AD:onNewAdminOnComputer"
	TriggerFirstUserOnSQLServer  = "AD:onFirstUserOnSQLServer"
	TriggerFirstAdminOnSQLServer = "AD:onFirstAdminOnSQLServer"
	TriggerNewValidUser          = "AD:onNewValidUser"
	TriggerNewUserFound          = "AD:onNewUserFound"

	// TopicNotification carries entity-change notifications for operators.
	TopicNotification = "entities.notification"

	// TopicCheckItemSaved announces a catalog check-item write. The triggers
	// module applies the saved item retroactively across engagements.
	TopicCheckItemSaved = "entities.checkitem.saved"
)

// CheckItemSaved is the payload published on TopicCheckItemSaved.
type CheckItemSaved struct {
	ItemID string
}

// TriggerEvent is the payload published on trigger topics. The triggers
// module materializes check-instances from it.
type TriggerEvent struct {
	Pentest    string
	Trigger    string
	TargetIID  string
	TargetType string
}
