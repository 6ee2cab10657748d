// This file defines sync point names used throughout the codebase. These
// are plain string constants with zero runtime overhead. In production
// builds (without -tags synctest), SyncPointProcess calls are no-ops.
package testutil

// Sync point names, using the convention "Component::Function:Location".
const (
	SPEngineOpen               = "Engine::Open:Start"
	SPEngineOpenComplete       = "Engine::Open:Complete"
	SPEngineClose              = "Engine::Close:Start"
	SPEngineCloseComplete      = "Engine::Close:Complete"
	SPEngineRecoverStart       = "Engine::Recover:Start"
	SPEngineRecoverComplete    = "Engine::Recover:Complete"
	SPEngineRecoverWALStart    = "Engine::RecoverWAL:Start"
	SPEngineRecoverWALComplete = "Engine::RecoverWAL:Complete"

	SPWriteStart              = "Engine::Write:Start"
	SPWriteBeforeWAL          = "Engine::Write:BeforeWAL"
	SPWriteAfterWAL           = "Engine::Write:AfterWAL"
	SPWriteBeforeMemtable     = "Engine::Write:BeforeMemtable"
	SPWriteAfterMemtable      = "Engine::Write:AfterMemtable"
	SPWriteComplete           = "Engine::Write:Complete"

	SPGetStart        = "Engine::Get:Start"
	SPGetMemtable      = "Engine::Get:SearchMemtable"
	SPGetSST           = "Engine::Get:SearchSST"
	SPGetComplete      = "Engine::Get:Complete"

	SPFlushStart          = "FlushJob::Run:Start"
	SPFlushWriteSST       = "FlushJob::Run:WriteSST"
	SPFlushSyncSST        = "FlushJob::Run:SyncSST"
	SPFlushApplyManifest  = "FlushJob::Run:ApplyManifest"
	SPFlushComplete       = "FlushJob::Run:Complete"

	SPCompactionPlan       = "CompactionJob::Run:Plan"
	SPCompactionOpenInputs = "CompactionJob::Run:OpenInputs"
	SPCompactionProcessing = "CompactionJob::Run:Processing"
	SPCompactionWriteOutput = "CompactionJob::Run:WriteOutput"
	SPCompactionInstall    = "CompactionJob::Run:Install"
	SPCompactionComplete   = "CompactionJob::Run:Complete"

	SPTaskPumpLoopIteration = "TaskPump::Loop:Iteration"

	SPManifestLogAndApply     = "Manifest::LogAndApply:Start"
	SPManifestLogAndApplyDone = "Manifest::LogAndApply:Complete"
	SPManifestRecover         = "Manifest::Recover:Start"
	SPManifestRecoverDone     = "Manifest::Recover:Complete"
	SPManifestCheckpoint      = "Manifest::Checkpoint:Start"
	SPManifestCheckpointDone  = "Manifest::Checkpoint:Complete"

	SPWALWrite         = "WAL::Write:Start"
	SPWALWriteComplete = "WAL::Write:Complete"
	SPWALSync          = "WAL::Sync:Start"
	SPWALSyncComplete  = "WAL::Sync:Complete"

	SPMemtableAdd         = "Memtable::Add:Start"
	SPMemtableAddComplete = "Memtable::Add:Complete"
	SPMemtableFreeze      = "Memtable::Freeze:Start"

	SPTableBuildStart   = "TableBuilder::Build:Start"
	SPTableBuildFinish  = "TableBuilder::Build:Finish"
	SPTableReadStart    = "TableReader::Open:Start"
	SPTableReadComplete = "TableReader::Open:Complete"

	SPIteratorSeek = "Iterator::Seek:Start"
	SPIteratorNext = "Iterator::Next:Start"
)
