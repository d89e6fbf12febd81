/*
Package storage keeps rcluster's run history in a local BoltDB file.

Every deploy, validate and rollback invocation is recorded as a types.Run in
the "runs" bucket, keyed by a random UUID. The "hosts" bucket holds the last
known provisioned state of each host (ports, engine version, exporters),
keyed by host name, and is rewritten after every successful host pipeline
and cleared by a clean rollback.

The database lives at <state-dir>/rcluster.db. Values are JSON so the file
can be inspected with any bbolt browser. bbolt holds an exclusive file lock,
so two rcluster processes sharing a state directory serialize on open; the
second gives up after two seconds.

# Usage

	store, err := storage.NewBoltStore(stateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	run := &types.Run{Kind: types.RunDeploy, Result: types.RunRunning}
	if err := store.CreateRun(run); err != nil {
		return err
	}
	// ...
	run.Result = types.RunSucceeded
	run.FinishedAt = time.Now()
	return store.UpdateRun(run)
*/
package storage
