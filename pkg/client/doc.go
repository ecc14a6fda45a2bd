/*
Package client provides the typed Go client for the Quarry MDM
control plane.

Every control-plane endpoint has a corresponding method: topology
provisioning, volume lifecycle, IO authorization, discovery and
health. SDS and SDC services use this client to talk to the MDM; so
do the CLI, the monitor, and the test suites. Data-plane transfers do
not go through here — they run over raw TCP between SDC and SDS
(pkg/wire).

# Usage

	c := client.New("http://127.0.0.1:8001")

	poolID, err := c.CreateStoragePool(ctx, &client.CreatePoolRequest{
		Name:               "pool-ssd",
		ProtectionDomainID: pdID,
		TotalCapacityBytes: 1 << 40,
	})
	if err != nil {
		return err
	}

	volumeID, err := c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name:      "data-1",
		PoolID:    poolID,
		SizeBytes: 10 << 30,
	})

Every method takes a context; the underlying http.Client also carries
a hard timeout (5s by default, NewWithTimeout to change it), so a
hung MDM cannot wedge a caller that forgot a deadline.

# Error Handling

Non-2xx responses come back as *APIError carrying the HTTP status and
the server's error message. APIError unwraps to the matching sentinel
from pkg/types, so classification survives the wire:

	_, err := c.GetVolume(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		// volume is gone
	}

# Integration Points

  - pkg/api: the HTTP surface this client mirrors
  - pkg/mdm: request and result document types
  - pkg/sds, pkg/sdc: registration, heartbeats, plans, ACK batches
  - cmd/quarry: all admin subcommands

# See Also

  - pkg/api for route semantics and status conventions
  - pkg/wire for the data-plane protocol this client does not cover
*/
package client
