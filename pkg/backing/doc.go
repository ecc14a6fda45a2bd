/*
Package backing manages the on-disk artifacts of the simulated data path.

Every byte the cluster stores ultimately lands in a sparse backing file
under a single storage root, laid out per role and node:

	<root>/sds/<node>/volumes/vol_<id>.img    replica backing file
	<root>/sdc/<node>/mappings/vol_<id>.json  mapping descriptor
	<root>/sdc/<node>/devices/naa.<wwn>.img   device alias

Backing files are created sparse (Truncate to the volume size) so a
terabyte volume costs no disk until written. Offsets are always
volume-absolute: the plan's segment offsets can be passed straight to
WriteAt/ReadAt without chunk arithmetic on the data node.

Device aliases give client-side consumers a stable path that looks like
a block device node. Creation tries a hard link first, then a symlink,
then a copy, so the alias works across filesystems and on hosts where
links are restricted.

All successful writes are flushed (File.Sync) before success is
reported; a crash after an acknowledged write never loses the bytes.

The MDM uses a Layout to pre-create, resize and remove backing files as
volumes change; each SDS uses one for its own reads and writes; each SDC
uses one to publish mapping descriptors and device aliases when volumes
are mapped.
*/
package backing
